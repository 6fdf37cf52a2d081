package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/knowledge-mesh/internal/console/service"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
)

type ClearanceHandler struct {
	svc *service.ClearanceService
}

func NewClearanceHandler(svc *service.ClearanceService) *ClearanceHandler {
	return &ClearanceHandler{svc: svc}
}

type grantRequest struct {
	PrincipalID  string   `json:"principal_id"`
	OrgID        string   `json:"org_id"`
	Level        string   `json:"level"` // PUBLIC / CONFIDENTIAL / SECRET / TOP_SECRET
	Compartments []string `json:"compartments"`
}

// Grant — POST /v1/clearances. Только админ организации.
func (h *ClearanceHandler) Grant(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "admin") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	level, err := domain.ParseClassLevel(req.Level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	actor := auth.PrincipalFromContext(r.Context())
	label := domain.NewLabel(level, req.Compartments...)
	if err := h.svc.Grant(r.Context(), actor, req.PrincipalID, req.OrgID, label); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Revoke — DELETE /v1/clearances/{principal}/{org}
func (h *ClearanceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "admin") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	actor := auth.PrincipalFromContext(r.Context())
	if err := h.svc.Revoke(r.Context(), actor, chi.URLParam(r, "principal"), chi.URLParam(r, "org")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FlushAll — POST /v1/clearances/flush. Аварийный сброс кэша всех инстансов.
func (h *ClearanceHandler) FlushAll(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "admin") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := h.svc.FlushAll(r.Context(), auth.PrincipalFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
