package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// InsertComparisonResult — append-only запись исхода сравнения.
func (s *Store) InsertComparisonResult(ctx context.Context, r domain.ComparisonResult) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comparison_results
			(id, entry_id, neighbor_id, cross_boundary, subscription_id,
			 raw_score, discount_factor, effective_score)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)`,
		r.ID, r.EntryID, r.NeighborID, r.CrossBoundary, r.SubscriptionID,
		r.RawScore, r.DiscountFactor, r.EffectiveScore)
	if err != nil {
		return fmt.Errorf("postgres: insert comparison result: %w", err)
	}
	return nil
}

// ListComparisonResults — все записанные сравнения записи.
func (s *Store) ListComparisonResults(ctx context.Context, entryID string) ([]domain.ComparisonResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entry_id, neighbor_id, cross_boundary, COALESCE(subscription_id, ''),
		       raw_score, discount_factor, effective_score, created_at
		FROM comparison_results
		WHERE entry_id = $1
		ORDER BY created_at`, entryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list comparison results: %w", err)
	}
	defer rows.Close()

	var result []domain.ComparisonResult
	for rows.Next() {
		var r domain.ComparisonResult
		if err := rows.Scan(&r.ID, &r.EntryID, &r.NeighborID, &r.CrossBoundary, &r.SubscriptionID,
			&r.RawScore, &r.DiscountFactor, &r.EffectiveScore, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan comparison result: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// AggregateFriction — суммарное «трение» записи. Считается по effective_score:
// кросс-граничные сравнения входят со своим дисконтом.
func (s *Store) AggregateFriction(ctx context.Context, entryID string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(effective_score), 0)
		FROM comparison_results WHERE entry_id = $1`, entryID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: aggregate friction: %w", err)
	}
	return total, nil
}

// GetJob — один конверт по id (для записи результата по завершенной джобе).
func (s *Store) GetJob(ctx context.Context, id string) (*domain.JobEnvelope, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, status, payload, created_at, updated_at FROM jobs WHERE id = $1`, id)

	j := &domain.JobEnvelope{}
	var kind, status string
	var payload []byte
	if err := row.Scan(&j.ID, &kind, &status, &payload, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	j.Kind = domain.JobKind(kind)
	j.Status = domain.JobStatus(status)
	j.Payload = payload
	return j, nil
}
