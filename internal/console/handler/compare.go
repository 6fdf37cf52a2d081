package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/knowledge-mesh/internal/compare"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
)

type CompareHandler struct {
	pipeline *compare.Pipeline
	access   accessGate
}

func NewCompareHandler(pipeline *compare.Pipeline, access accessGate) *CompareHandler {
	return &CompareHandler{pipeline: pipeline, access: access}
}

// Dispatch — POST /v1/notebooks/{id}/entries/{entryId}/compare?k=
// Ставит COMPARE-джобы по соседям записи (нативным и зеркальным).
func (h *CompareHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	notebookID := chi.URLParam(r, "id")
	actor := auth.PrincipalFromContext(r.Context())
	if _, err := h.access.Require(r.Context(), actor, notebookID, domain.TierReadWrite); err != nil {
		writeError(w, err)
		return
	}

	k, _ := strconv.Atoi(r.URL.Query().Get("k"))
	if k <= 0 || k > 100 {
		k = 10
	}
	jobs, err := h.pipeline.Dispatch(r.Context(), notebookID, chi.URLParam(r, "entryId"), k)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"jobs": jobs})
}

// Results — GET /v1/notebooks/{id}/entries/{entryId}/results
// История сравнений записи и агрегат трения (effective = raw * discount).
func (h *CompareHandler) Results(w http.ResponseWriter, r *http.Request) {
	notebookID := chi.URLParam(r, "id")
	actor := auth.PrincipalFromContext(r.Context())
	if _, err := h.access.Require(r.Context(), actor, notebookID, domain.TierRead); err != nil {
		writeError(w, err)
		return
	}

	report, err := h.pipeline.Results(r.Context(), chi.URLParam(r, "entryId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PendingJobs — GET /v1/jobs?kind=COMPARE&limit=
// Пулл-интерфейс агентов-исполнителей.
func (h *CompareHandler) PendingJobs(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "agent") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	jobs, err := h.pipeline.PendingJobs(r.Context(), domain.JobKind(r.URL.Query().Get("kind")), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

// RecordResult — POST /v1/jobs/{id}/result
// Callback агента-исполнителя: сырой friction, дисконт применяет ядро.
func (h *CompareHandler) RecordResult(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "agent") {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req struct {
		RawScore float64 `json:"raw_score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	result, err := h.pipeline.RecordResult(r.Context(), chi.URLParam(r, "id"), req.RawScore)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
