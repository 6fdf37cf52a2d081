package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// flakySource падает заданное число раз, потом отвечает.
type flakySource struct {
	failures int
	err      error
	calls    int
}

func (f *flakySource) FetchSince(_ context.Context, _ string, _ int64, _ int) ([]domain.SourceItem, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return []domain.SourceItem{{EntryID: "e1", Sequence: 1}}, nil
}

func (f *flakySource) Label(_ context.Context, _ string) (domain.SecurityLabel, error) {
	f.calls++
	if f.calls <= f.failures {
		return domain.SecurityLabel{}, f.err
	}
	return domain.NewLabel(domain.LevelPublic), nil
}

func TestReliableSourceRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	next := &flakySource{failures: 2, err: errors.New("connection reset")}
	w := NewReliableSource("nb1", next, time.Second)

	items, err := w.FetchSince(context.Background(), "nb1", 0, 10)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("items: %+v", items)
	}
	if next.calls != 3 {
		t.Errorf("calls: got %d, want 3 (two retries)", next.calls)
	}
}

func TestReliableSourceDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	// 404 — не транзиентная ошибка: удаление либо отзыв доступа.
	next := &flakySource{failures: 10, err: domain.ErrNotFound}
	w := NewReliableSource("nb1", next, time.Second)

	if _, err := w.Label(context.Background(), "nb1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if next.calls != 1 {
		t.Errorf("calls: got %d, want 1 (no retries)", next.calls)
	}
}

func TestThrottleErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("429")
	err := &ThrottleError{RetryAfter: time.Second, Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("ThrottleError must unwrap to its cause")
	}
}
