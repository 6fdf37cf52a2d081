package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

func TestHTTPSourceFetchSince(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/notebooks/nb1/feed" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("since"); got != "7" {
			t.Errorf("since: %s", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("auth header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"entry_id":"e8","sequence":8,"title":"alpha"}]}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "tok", time.Second)
	items, err := s.FetchSince(context.Background(), "nb1", 7, 100)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(items) != 1 || items[0].EntryID != "e8" || items[0].Sequence != 8 {
		t.Errorf("items: %+v", items)
	}
}

func TestHTTPSourceLabel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"label":{"level":2,"compartments":["CRYPTO"]}}`))
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "", time.Second)
	label, err := s.Label(context.Background(), "nb1")
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if !label.Equal(domain.NewLabel(domain.LevelSecret, "CRYPTO")) {
		t.Errorf("label: %v", label)
	}
}

func TestHTTPSourceThrottle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "", time.Second)
	_, err := s.FetchSince(context.Background(), "nb1", 0, 10)

	var throttle *ThrottleError
	if !errors.As(err, &throttle) {
		t.Fatalf("got %v, want ThrottleError", err)
	}
	if throttle.RetryAfter != 17*time.Second {
		t.Errorf("retry after: got %v, want 17s", throttle.RetryAfter)
	}
}

func TestHTTPSourceNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "", time.Second)
	if _, err := s.Label(context.Background(), "nb1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestHTTPSourceUnexpectedStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewHTTPSource(srv.URL, "", time.Second)
	if _, err := s.FetchSince(context.Background(), "nb1", 0, 10); err == nil {
		t.Error("5xx must be an error")
	}
}
