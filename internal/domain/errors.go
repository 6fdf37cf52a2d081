package domain

import (
	"errors"
	"fmt"
)

// Таксономия ошибок ядра. Хендлеры маппят их на HTTP-статусы,
// сервисы — заворачивают через %w, сохраняя возможность errors.Is.
var (
	// ErrPolicyViolation — любое нарушение политики безопасности
	// (классификация, компартменты, цикл, дубликат, самоподписка).
	// Всегда отдается клиенту как отклоненный запрос (409), никогда не «смягчается».
	ErrPolicyViolation = errors.New("policy violation")

	// ErrNotFound — объект отсутствует ЛИБО скрыт от вызывающего.
	// Оба случая обязаны быть байт-в-байт неразличимы снаружи (§ concealment).
	ErrNotFound = errors.New("not found")

	// ErrForbidden — объект видим, но tier недостаточен для операции.
	ErrForbidden = errors.New("forbidden")

	// ErrIntegrity — провал проверки подписи/целостности бандла.
	// Фатален для конкретного импорта, бандл не применяется даже частично.
	ErrIntegrity = errors.New("integrity failure")

	// ErrConflict — конкурентное изменение (например, дубликат ключа).
	ErrConflict = errors.New("conflict")
)

// PolicyViolationf строит нарушение политики с человекочитаемой причиной.
func PolicyViolationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrPolicyViolation}, args...)...)
}
