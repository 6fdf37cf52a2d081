package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

func scanNotebook(row pgx.Row) (*domain.Notebook, error) {
	n := &domain.Notebook{}
	var level int
	var compartments []string
	err := row.Scan(&n.ID, &n.OrgID, &n.OwnerGroupID, &n.Name, &level, &compartments, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // nil для 404 в хендлере (и для concealment)
		}
		return nil, err
	}
	n.Label = domain.NewLabel(domain.ClassLevel(level), compartments...)
	return n, nil
}

// GetNotebook возвращает ноутбук либо nil. Решение «показывать ли 404»
// принимает AccessResolver, репозиторий прав не знает.
func (s *Store) GetNotebook(ctx context.Context, id string) (*domain.Notebook, error) {
	query := `
		SELECT id, org_id, owner_group_id, name, level, compartments, created_at, updated_at
		FROM notebooks WHERE id = $1`
	n, err := scanNotebook(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("postgres: get notebook: %w", err)
	}
	return n, nil
}

// UpdateNotebookLabel меняет классификацию контейнера.
// Движок подписок переоценит доминирование по сигналу label-change.
func (s *Store) UpdateNotebookLabel(ctx context.Context, id string, label domain.SecurityLabel) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE notebooks SET level = $1, compartments = $2, updated_at = NOW() WHERE id = $3`,
		int(label.Level), label.Compartments, id)
	if err != nil {
		return fmt.Errorf("postgres: update notebook label: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListACL возвращает все ACL-записи ноутбука.
func (s *Store) ListACL(ctx context.Context, notebookID string) ([]domain.ACLEntry, error) {
	query := `
		SELECT notebook_id, COALESCE(principal_id, ''), COALESCE(group_id, ''), tier, created_at
		FROM notebook_acl WHERE notebook_id = $1`

	rows, err := s.pool.Query(ctx, query, notebookID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list acl: %w", err)
	}
	defer rows.Close()

	var result []domain.ACLEntry
	for rows.Next() {
		var e domain.ACLEntry
		var tier int
		if err := rows.Scan(&e.NotebookID, &e.PrincipalID, &e.GroupID, &tier, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan acl: %w", err)
		}
		e.Tier = domain.AccessTier(tier)
		result = append(result, e)
	}
	return result, rows.Err()
}

// ListEntriesSince отдает записи ноутбука с sequence > since, порционно.
// Это серверная сторона sync-протокола (LocalSource и export ходят сюда).
func (s *Store) ListEntriesSince(ctx context.Context, notebookID string, since int64, limit int) ([]domain.Entry, error) {
	query := `
		SELECT id, notebook_id, title, body, sequence, deleted, created_at, updated_at
		FROM entries
		WHERE notebook_id = $1 AND sequence > $2
		ORDER BY sequence ASC
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, notebookID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries: %w", err)
	}
	defer rows.Close()

	var result []domain.Entry
	for rows.Next() {
		var e domain.Entry
		if err := rows.Scan(&e.ID, &e.NotebookID, &e.Title, &e.Body, &e.Sequence, &e.Deleted, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ListClaimsByEntry возвращает клеймы нативной записи.
func (s *Store) ListClaimsByEntry(ctx context.Context, entryID string) ([]domain.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, entry_id, text FROM claims WHERE entry_id = $1`, entryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list claims: %w", err)
	}
	defer rows.Close()

	var result []domain.Claim
	for rows.Next() {
		var c domain.Claim
		if err := rows.Scan(&c.ID, &c.EntryID, &c.Text); err != nil {
			return nil, fmt.Errorf("postgres: scan claim: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
