package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// GetClearance возвращает допуск (principal, org) либо nil, если допуска нет.
// Отсутствие допуска — валидное состояние (эффективный tier схлопнется в none).
func (s *Store) GetClearance(ctx context.Context, principalID, orgID string) (*domain.Clearance, error) {
	query := `
		SELECT principal_id, org_id, level, compartments, granted_by, created_at, updated_at
		FROM clearances
		WHERE principal_id = $1 AND org_id = $2`

	c := &domain.Clearance{}
	var level int
	var compartments []string
	err := s.pool.QueryRow(ctx, query, principalID, orgID).Scan(
		&c.PrincipalID, &c.OrgID, &level, &compartments, &c.GrantedBy, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get clearance: %w", err)
	}
	c.MaxLabel = domain.NewLabel(domain.ClassLevel(level), compartments...)
	return c, nil
}

// UpsertClearance создает или повышает/понижает допуск.
func (s *Store) UpsertClearance(ctx context.Context, c *domain.Clearance) error {
	query := `
		INSERT INTO clearances (principal_id, org_id, level, compartments, granted_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (principal_id, org_id)
		DO UPDATE SET level = $3, compartments = $4, granted_by = $5, updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		c.PrincipalID, c.OrgID, int(c.MaxLabel.Level), c.MaxLabel.Compartments, c.GrantedBy)
	if err != nil {
		return fmt.Errorf("postgres: upsert clearance: %w", err)
	}
	return nil
}

// DeleteClearance отзывает допуск. Отсутствие строки — не ошибка:
// отзыв идемпотентен (важно для incident response сценариев).
func (s *Store) DeleteClearance(ctx context.Context, principalID, orgID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM clearances WHERE principal_id = $1 AND org_id = $2`, principalID, orgID)
	if err != nil {
		return fmt.Errorf("postgres: delete clearance: %w", err)
	}
	return nil
}
