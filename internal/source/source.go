package source

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// ContentSource — транспорт получения контента ноутбука-источника.
// Движок синка не различает локальный и удаленный источник: обе реализации
// отдают монотонные по sequence батчи с него же начинающимся курсором.
type ContentSource interface {
	// FetchSince возвращает до limit изменений с sequence > since,
	// упорядоченных по возрастанию sequence.
	FetchSince(ctx context.Context, notebookID string, since int64, limit int) ([]domain.SourceItem, error)

	// Label — текущая классификация источника (для переоценки доминирования
	// перед каждым циклом).
	Label(ctx context.Context, notebookID string) (domain.SecurityLabel, error)
}

// ThrottleError — источник попросил замедлиться (например, отдал Retry-After).
// Ретраер использует подсказку вместо стандартного бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
