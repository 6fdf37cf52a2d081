package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// HTTPSource — удаленный автономный стор, отдающий контент по HTTP.
// Используется для подписок между деплоями; оборачивается в Reliable
// (ретраи, circuit breaker, rate limit) перед передачей движку.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	token   string // Сервисный токен нашего деплоя у источника
}

func NewHTTPSource(baseURL, token string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		token:   token,
	}
}

func (s *HTTPSource) FetchSince(ctx context.Context, notebookID string, since int64, limit int) ([]domain.SourceItem, error) {
	url := fmt.Sprintf("%s/v1/notebooks/%s/feed?since=%d&limit=%d", s.baseURL, notebookID, since, limit)
	var payload struct {
		Items []domain.SourceItem `json:"items"`
	}
	if err := s.getJSON(ctx, url, &payload); err != nil {
		return nil, err
	}
	return payload.Items, nil
}

func (s *HTTPSource) Label(ctx context.Context, notebookID string) (domain.SecurityLabel, error) {
	url := fmt.Sprintf("%s/v1/notebooks/%s/label", s.baseURL, notebookID)
	var payload struct {
		Label domain.SecurityLabel `json:"label"`
	}
	if err := s.getJSON(ctx, url, &payload); err != nil {
		return domain.SecurityLabel{}, err
	}
	return payload.Label, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, url string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("http source: build request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http source: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// ок, читаем ниже
	case resp.StatusCode == http.StatusTooManyRequests:
		// Считываем Retry-After: ретраер подождет столько, сколько просили
		retryAfter := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &ThrottleError{RetryAfter: retryAfter, Cause: fmt.Errorf("source returned 429")}
	case resp.StatusCode == http.StatusNotFound:
		// Источник скрывает существование точно так же, как и мы:
		// 404 означает «нет или не положено», различать нечего.
		return domain.ErrNotFound
	default:
		return fmt.Errorf("http source: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("http source: decode: %w", err)
	}
	return nil
}
