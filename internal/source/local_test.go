package source

import (
	"context"
	"errors"
	"testing"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

type fakeLocalRepo struct {
	notebook   *domain.Notebook
	entries    []domain.Entry
	claims     map[string][]domain.Claim
	claimCalls []string
}

func (f *fakeLocalRepo) GetNotebook(_ context.Context, _ string) (*domain.Notebook, error) {
	return f.notebook, nil
}

func (f *fakeLocalRepo) ListEntriesSince(_ context.Context, _ string, since int64, limit int) ([]domain.Entry, error) {
	var out []domain.Entry
	for _, e := range f.entries {
		if e.Sequence > since && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLocalRepo) ListClaimsByEntry(_ context.Context, entryID string) ([]domain.Claim, error) {
	f.claimCalls = append(f.claimCalls, entryID)
	return f.claims[entryID], nil
}

func TestLocalSourceFetchSince(t *testing.T) {
	t.Parallel()

	repo := &fakeLocalRepo{
		entries: []domain.Entry{
			{ID: "e1", Sequence: 1, Title: "alpha", Body: "b1"},
			{ID: "e2", Sequence: 2, Title: "beta", Deleted: true},
		},
		claims: map[string][]domain.Claim{
			"e1": {{ID: "c1", EntryID: "e1", Text: "claim"}},
			"e2": {{ID: "c2", EntryID: "e2", Text: "stale"}},
		},
	}
	s := NewLocalSource(repo)

	items, err := s.FetchSince(context.Background(), "nb1", 0, 100)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items: got %d", len(items))
	}
	if len(items[0].Claims) != 1 {
		t.Errorf("live entry must carry claims: %+v", items[0])
	}
	// Удаленная запись уходит tombstone-ом, ее клеймы не выбираются вовсе.
	if !items[1].Deleted || items[1].Claims != nil {
		t.Errorf("tombstone must not carry claims: %+v", items[1])
	}
	if len(repo.claimCalls) != 1 || repo.claimCalls[0] != "e1" {
		t.Errorf("claim lookups: %v", repo.claimCalls)
	}
}

func TestLocalSourceLabel(t *testing.T) {
	t.Parallel()

	repo := &fakeLocalRepo{notebook: &domain.Notebook{
		ID: "nb1", Label: domain.NewLabel(domain.LevelSecret),
	}}
	s := NewLocalSource(repo)

	label, err := s.Label(context.Background(), "nb1")
	if err != nil {
		t.Fatalf("Label: %v", err)
	}
	if !label.Equal(domain.NewLabel(domain.LevelSecret)) {
		t.Errorf("label: %v", label)
	}

	repo.notebook = nil
	if _, err := s.Label(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
