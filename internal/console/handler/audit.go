package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/console/service"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
	"github.com/xela07ax/knowledge-mesh/internal/repository/postgres"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs — GET /v1/audit?actor=&resource=&from=&to=&limit=&offset=
// Только для админского скоупа: журнал содержит картину отказов и допусков.
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "admin") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	q := postgres.AuditQuery{
		Actor:    r.URL.Query().Get("actor"),
		Resource: r.URL.Query().Get("resource"),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			q.To = t
		}
	}
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))

	events, err := h.service.FetchEvents(r.Context(), q)
	if err != nil {
		http.Error(w, "Failed to fetch audit logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
