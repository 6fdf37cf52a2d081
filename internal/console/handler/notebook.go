package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/knowledge-mesh/internal/console/service"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
)

type NotebookHandler struct {
	svc *service.NotebookService
}

func NewNotebookHandler(svc *service.NotebookService) *NotebookHandler {
	return &NotebookHandler{svc: svc}
}

// GetLabel — GET /v1/notebooks/{id}/label
// Серверная сторона переоценки доминирования для удаленных подписчиков.
func (h *NotebookHandler) GetLabel(w http.ResponseWriter, r *http.Request) {
	label, err := h.svc.GetLabel(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"label": label})
}

type changeLabelRequest struct {
	Level        string   `json:"level"`
	Compartments []string `json:"compartments"`
}

// ChangeLabel — PUT /v1/notebooks/{id}/label
func (h *NotebookHandler) ChangeLabel(w http.ResponseWriter, r *http.Request) {
	var req changeLabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	level, err := domain.ParseClassLevel(req.Level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = h.svc.ChangeLabel(r.Context(), auth.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "id"), domain.NewLabel(level, req.Compartments...))
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Mirror — GET /v1/notebooks/{id}/mirror
// Живой зеркальный контент всех подписок ноутбука.
func (h *NotebookHandler) Mirror(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Mirror(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// Feed — GET /v1/notebooks/{id}/feed?since=&limit=
// Отдает изменения с sequence > since; это то, что удаленный HTTPSource
// читает при синхронизации кросс-деплойной подписки.
func (h *NotebookHandler) Feed(w http.ResponseWriter, r *http.Request) {
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	items, err := h.svc.Feed(r.Context(), auth.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "id"), since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}
