package source

import (
	"context"
	"fmt"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// LocalRepository — выборки, нужные локальному источнику.
type LocalRepository interface {
	GetNotebook(ctx context.Context, id string) (*domain.Notebook, error)
	ListEntriesSince(ctx context.Context, notebookID string, since int64, limit int) ([]domain.Entry, error)
	ListClaimsByEntry(ctx context.Context, entryID string) ([]domain.Claim, error)
}

// LocalSource — источник в том же кластере хранения: подписка между
// ноутбуками одного деплоя читает записи напрямую из Postgres.
type LocalSource struct {
	repo LocalRepository
}

func NewLocalSource(repo LocalRepository) *LocalSource {
	return &LocalSource{repo: repo}
}

func (s *LocalSource) FetchSince(ctx context.Context, notebookID string, since int64, limit int) ([]domain.SourceItem, error) {
	entries, err := s.repo.ListEntriesSince(ctx, notebookID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("local source: %w", err)
	}

	items := make([]domain.SourceItem, 0, len(entries))
	for _, e := range entries {
		item := domain.SourceItem{
			EntryID:  e.ID,
			Sequence: e.Sequence,
			Title:    e.Title,
			Body:     e.Body,
			Deleted:  e.Deleted,
		}
		// Клеймы удаленной записи не тянем: подписчику уйдет tombstone
		if !e.Deleted {
			claims, err := s.repo.ListClaimsByEntry(ctx, e.ID)
			if err != nil {
				return nil, fmt.Errorf("local source claims: %w", err)
			}
			item.Claims = claims
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *LocalSource) Label(ctx context.Context, notebookID string) (domain.SecurityLabel, error) {
	nb, err := s.repo.GetNotebook(ctx, notebookID)
	if err != nil {
		return domain.SecurityLabel{}, fmt.Errorf("local source label: %w", err)
	}
	if nb == nil {
		return domain.SecurityLabel{}, domain.ErrNotFound
	}
	return nb.Label, nil
}
