package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
	"github.com/xela07ax/knowledge-mesh/internal/subscription"
)

// accessGate — тот же контракт Require, что и у сервисов.
type accessGate interface {
	Require(ctx context.Context, principalID, notebookID string, required domain.AccessTier) (*domain.Notebook, error)
}

type BundleHandler struct {
	bundler *subscription.Bundler
	access  accessGate
}

func NewBundleHandler(bundler *subscription.Bundler, access accessGate) *BundleHandler {
	return &BundleHandler{bundler: bundler, access: access}
}

// Export — GET /v1/notebooks/{id}/export?since=&scope=
func (h *BundleHandler) Export(w http.ResponseWriter, r *http.Request) {
	notebookID := chi.URLParam(r, "id")
	actor := auth.PrincipalFromContext(r.Context())

	if _, err := h.access.Require(r.Context(), actor, notebookID, domain.TierRead); err != nil {
		writeError(w, err)
		return
	}

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	scope := domain.SubscriptionScope(r.URL.Query().Get("scope"))

	bundle, err := h.bundler.Export(r.Context(), actor, notebookID, since, scope)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

type importRequest struct {
	Peer   string               `json:"peer"` // Чей ключ проверять
	Bundle *domain.ExportBundle `json:"bundle"`
}

// Import — POST /v1/notebooks/{id}/import
// {id} — ноутбук-подписчик: вызывающему нужен admin-tier на нем.
func (h *BundleHandler) Import(w http.ResponseWriter, r *http.Request) {
	actor := auth.PrincipalFromContext(r.Context())
	if _, err := h.access.Require(r.Context(), actor, chi.URLParam(r, "id"), domain.TierAdmin); err != nil {
		writeError(w, err)
		return
	}

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Bundle == nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	applied, err := h.bundler.Import(r.Context(), actor, req.Peer, req.Bundle)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"applied": applied})
}
