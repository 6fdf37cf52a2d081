package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// writeJSON — единая точка сериализации ответов.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError маппит таксономию ошибок ядра на HTTP-статусы.
// ErrNotFound всегда дает ОДИН И ТОТ ЖЕ ответ: скрытый и отсутствующий
// объект снаружи неразличимы байт-в-байт.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrPolicyViolation),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrSubscriptionSuspended):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrIntegrity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
