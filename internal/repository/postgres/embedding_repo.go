package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Вектора пишут внешние агенты по джобам EMBED / EMBED_MIRRORED;
// ядро их только читает для поиска соседей.

// GetEntryEmbedding — вектор нативной записи (nil, nil если еще не посчитан).
func (s *Store) GetEntryEmbedding(ctx context.Context, entryID string) ([]float32, error) {
	var vec []float32
	err := s.pool.QueryRow(ctx,
		`SELECT vector FROM entry_embeddings WHERE entry_id = $1`, entryID).Scan(&vec)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get entry embedding: %w", err)
	}
	return vec, nil
}

// ListEntryEmbeddings — вектора всех неудаленных записей ноутбука, кроме самой entryID.
func (s *Store) ListEntryEmbeddings(ctx context.Context, notebookID, excludeEntryID string) (map[string][]float32, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ee.entry_id, ee.vector
		FROM entry_embeddings ee
		JOIN entries e ON e.id = ee.entry_id
		WHERE e.notebook_id = $1 AND e.deleted = FALSE AND ee.entry_id <> $2`,
		notebookID, excludeEntryID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entry embeddings: %w", err)
	}
	defer rows.Close()
	return collectEmbeddings(rows)
}

// ListMirroredEmbeddings — вектора живого (не tombstoned) зеркального контента
// всех подписок ноутбука. Ключ карты — source_entry_id, значения дополняются
// принадлежностью к подписке через mirroredOwners.
func (s *Store) ListMirroredEmbeddings(ctx context.Context, subscriberNotebookID string) (map[string][]float32, map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT me.source_entry_id, me.subscription_id, me.vector
		FROM mirrored_embeddings me
		JOIN mirrored_content m
		  ON m.subscription_id = me.subscription_id AND m.source_entry_id = me.source_entry_id
		JOIN subscriptions sub ON sub.id = m.subscription_id
		WHERE sub.subscriber_notebook_id = $1 AND m.tombstoned = FALSE`,
		subscriberNotebookID)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: list mirrored embeddings: %w", err)
	}
	defer rows.Close()

	vectors := make(map[string][]float32)
	owners := make(map[string]string)
	for rows.Next() {
		var id, subID string
		var vec []float32
		if err := rows.Scan(&id, &subID, &vec); err != nil {
			return nil, nil, fmt.Errorf("postgres: scan mirrored embedding: %w", err)
		}
		vectors[id] = vec
		owners[id] = subID
	}
	return vectors, owners, rows.Err()
}

func collectEmbeddings(rows pgx.Rows) (map[string][]float32, error) {
	result := make(map[string][]float32)
	for rows.Next() {
		var id string
		var vec []float32
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("postgres: scan embedding: %w", err)
		}
		result[id] = vec
	}
	return result, rows.Err()
}

// UpsertEntryEmbedding / UpsertMirroredEmbedding — точки записи для агентов
// (используются тестами и callback-хендлером результатов).
func (s *Store) UpsertEntryEmbedding(ctx context.Context, entryID string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entry_embeddings (entry_id, vector) VALUES ($1, $2)
		ON CONFLICT (entry_id) DO UPDATE SET vector = EXCLUDED.vector, updated_at = NOW()`,
		entryID, vec)
	if err != nil {
		return fmt.Errorf("postgres: upsert entry embedding: %w", err)
	}
	return nil
}

func (s *Store) UpsertMirroredEmbedding(ctx context.Context, subscriptionID, sourceEntryID string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mirrored_embeddings (subscription_id, source_entry_id, vector) VALUES ($1, $2, $3)
		ON CONFLICT (subscription_id, source_entry_id)
		DO UPDATE SET vector = EXCLUDED.vector, updated_at = NOW()`,
		subscriptionID, sourceEntryID, vec)
	if err != nil {
		return fmt.Errorf("postgres: upsert mirrored embedding: %w", err)
	}
	return nil
}
