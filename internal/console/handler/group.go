package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/knowledge-mesh/internal/directory"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
)

type groupAuditor interface {
	LogGroupEdgeAdd(actor, parentID, childID string)
}

type GroupHandler struct {
	registry *directory.Registry
	auditor  groupAuditor
}

func NewGroupHandler(registry *directory.Registry, auditor groupAuditor) *GroupHandler {
	return &GroupHandler{registry: registry, auditor: auditor}
}

// AddEdge — POST /v1/groups/{id}/edges, body: {"child_group_id": "..."}
// Вставка ребра parent -> child; цикл отклоняется на уровне транзакции.
func (h *GroupHandler) AddEdge(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "admin") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req struct {
		ChildGroupID string `json:"child_group_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChildGroupID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	parentID := chi.URLParam(r, "id")
	orgID := auth.OrgFromContext(r.Context())
	if err := h.registry.AddEdge(r.Context(), orgID, parentID, req.ChildGroupID); err != nil {
		writeError(w, err)
		return
	}
	h.auditor.LogGroupEdgeAdd(auth.PrincipalFromContext(r.Context()), parentID, req.ChildGroupID)
	w.WriteHeader(http.StatusCreated)
}

// EffectiveLabel — GET /v1/groups/{id}/label: производная метка группы.
func (h *GroupHandler) EffectiveLabel(w http.ResponseWriter, r *http.Request) {
	orgID := auth.OrgFromContext(r.Context())
	label, ok := h.registry.EffectiveLabel(r.Context(), orgID, chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"label": label})
}
