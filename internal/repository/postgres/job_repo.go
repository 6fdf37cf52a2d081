package postgres

import (
	"context"
	"fmt"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// EnqueueJobs ставит пачку джоб в общую очередь (одна таблица на все виды,
// payload — типизированный конверт, см. domain.JobEnvelope).
func (s *Store) EnqueueJobs(ctx context.Context, jobs []domain.JobEnvelope) error {
	if len(jobs) == 0 {
		return nil
	}

	batchValues := ""
	vals := make([]interface{}, 0, len(jobs)*4)
	for i, j := range jobs {
		p := i * 4
		batchValues += fmt.Sprintf("($%d, $%d, $%d, $%d),", p+1, p+2, p+3, p+4)
		vals = append(vals, j.ID, string(j.Kind), string(j.Status), []byte(j.Payload))
	}
	batchValues = batchValues[:len(batchValues)-1]

	query := "INSERT INTO jobs (id, kind, status, payload) VALUES " + batchValues
	if _, err := s.pool.Exec(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: enqueue jobs: %w", err)
	}
	return nil
}

// UpdateJobStatus — переходы конечного автомата джобы.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status domain.JobStatus) error {
	ct, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update job status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPendingJobs — выборка для диспетчера (worker pool внешних агентов).
func (s *Store) ListPendingJobs(ctx context.Context, kind domain.JobKind, limit int) ([]domain.JobEnvelope, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, status, payload, created_at, updated_at
		FROM jobs
		WHERE kind = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3`, string(kind), string(domain.JobPending), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending jobs: %w", err)
	}
	defer rows.Close()

	var result []domain.JobEnvelope
	for rows.Next() {
		var j domain.JobEnvelope
		var kind, status string
		var payload []byte
		if err := rows.Scan(&j.ID, &kind, &status, &payload, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		j.Kind = domain.JobKind(kind)
		j.Status = domain.JobStatus(status)
		j.Payload = payload
		result = append(result, j)
	}
	return result, rows.Err()
}
