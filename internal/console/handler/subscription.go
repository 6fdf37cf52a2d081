package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"github.com/xela07ax/knowledge-mesh/internal/infra/auth"
	"github.com/xela07ax/knowledge-mesh/internal/subscription"
)

type SubscriptionHandler struct {
	svc *subscription.Service
}

func NewSubscriptionHandler(svc *subscription.Service) *SubscriptionHandler {
	return &SubscriptionHandler{svc: svc}
}

type createSubscriptionRequest struct {
	SourceNotebookID    string  `json:"source_notebook_id"`
	Scope               string  `json:"scope"`
	TopicFilter         string  `json:"topic_filter"`
	DiscountFactor      float64 `json:"discount_factor"`
	PollIntervalSeconds int64   `json:"poll_interval_seconds"`
}

// subscriptionView — ответ статуса: staleness считается на момент запроса.
type subscriptionView struct {
	*domain.Subscription
	StalenessSeconds int64 `json:"staleness_seconds"`
}

func viewOf(sub *domain.Subscription) subscriptionView {
	return subscriptionView{
		Subscription:     sub,
		StalenessSeconds: int64(sub.Staleness(time.Now()) / time.Second),
	}
}

// Create — POST /v1/notebooks/{id}/subscriptions
func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	sub, err := h.svc.Create(r.Context(), auth.PrincipalFromContext(r.Context()), subscription.CreateParams{
		SubscriberNotebookID: chi.URLParam(r, "id"),
		SourceNotebookID:     req.SourceNotebookID,
		Scope:                domain.SubscriptionScope(req.Scope),
		TopicFilter:          req.TopicFilter,
		DiscountFactor:       req.DiscountFactor,
		PollInterval:         time.Duration(req.PollIntervalSeconds) * time.Second,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(sub))
}

// List — GET /v1/notebooks/{id}/subscriptions
func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.svc.List(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]subscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, viewOf(sub))
	}
	writeJSON(w, http.StatusOK, views)
}

// Status — GET /v1/notebooks/{id}/subscriptions/{subId}/status
func (h *SubscriptionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.Get(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "subId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

// Delete — DELETE /v1/notebooks/{id}/subscriptions/{subId}
func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "subId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForceSync — POST /v1/notebooks/{id}/subscriptions/{subId}/sync
func (h *SubscriptionHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ForceSync(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "subId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Resume — POST /v1/notebooks/{id}/subscriptions/{subId}/resume
func (h *SubscriptionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Resume(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "subId")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MirrorEntry — GET /v1/notebooks/{id}/subscriptions/{subId}/entries/{entryId}
// Одна зеркальная строка как есть, включая tombstone.
func (h *SubscriptionHandler) MirrorEntry(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.MirrorEntry(r.Context(), auth.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "subId"), chi.URLParam(r, "entryId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// UpdateFilter — PUT /v1/notebooks/{id}/subscriptions/{subId}/filter
func (h *SubscriptionHandler) UpdateFilter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TopicFilter string `json:"topic_filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.UpdateTopicFilter(r.Context(), auth.PrincipalFromContext(r.Context()),
		chi.URLParam(r, "subId"), req.TopicFilter); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
