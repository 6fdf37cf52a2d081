package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// UpsertMirroredBatch идемпотентно вливает батч зеркального контента.
// Ключ — (subscription_id, source_entry_id): повторный прогон того же батча
// не меняет ни строки, ни счетчики. Удаление в источнике = tombstone.
func (s *Store) UpsertMirroredBatch(ctx context.Context, items []domain.MirroredContent) error {
	if len(items) == 0 {
		return nil
	}

	// Количество колонок в таблице mirrored_content
	numFields := 7
	placeholderStr := ""
	vals := make([]interface{}, 0, len(items)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, m := range items {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7)

		claims, _ := json.Marshal(m.Claims)
		vals = append(vals,
			m.SubscriptionID, m.SourceEntryID, m.SourceSequence,
			m.Title, m.Body, claims, m.Tombstoned,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO mirrored_content
			(subscription_id, source_entry_id, source_sequence, title, body, claims, tombstoned)
		VALUES %s
		ON CONFLICT (subscription_id, source_entry_id)
		DO UPDATE SET
			source_sequence = EXCLUDED.source_sequence,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			claims = EXCLUDED.claims,
			tombstoned = EXCLUDED.tombstoned,
			updated_at = NOW()`,
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := s.pool.Exec(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: upsert mirrored batch: %w", err)
	}
	return nil
}

// CountMirrored — текущее число строк подписки (включая tombstone: строки
// не удаляются, счетчик отражает объем зеркального хранилища).
func (s *Store) CountMirrored(ctx context.Context, subscriptionID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM mirrored_content WHERE subscription_id = $1`, subscriptionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count mirrored: %w", err)
	}
	return n, nil
}

// GetMirrored — одна зеркальная строка (в тестах e2e-сценария и в read-path).
func (s *Store) GetMirrored(ctx context.Context, subscriptionID, sourceEntryID string) (*domain.MirroredContent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT subscription_id, source_entry_id, source_sequence, title, body, claims, tombstoned, mirrored_at, updated_at
		FROM mirrored_content
		WHERE subscription_id = $1 AND source_entry_id = $2`, subscriptionID, sourceEntryID)

	m := &domain.MirroredContent{}
	var claims []byte
	err := row.Scan(&m.SubscriptionID, &m.SourceEntryID, &m.SourceSequence,
		&m.Title, &m.Body, &claims, &m.Tombstoned, &m.MirroredAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get mirrored: %w", err)
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &m.Claims); err != nil {
			return nil, fmt.Errorf("postgres: mirrored claims decode: %w", err)
		}
	}
	return m, nil
}

// ListLiveMirrored возвращает живые (не tombstoned) зеркальные строки всех
// подписок ноутбука — кандидаты-соседи для compare-пайплайна.
func (s *Store) ListLiveMirrored(ctx context.Context, subscriberNotebookID string) ([]domain.MirroredContent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.subscription_id, m.source_entry_id, m.source_sequence,
		       m.title, m.body, m.claims, m.tombstoned, m.mirrored_at, m.updated_at
		FROM mirrored_content m
		JOIN subscriptions s ON s.id = m.subscription_id
		WHERE s.subscriber_notebook_id = $1 AND m.tombstoned = FALSE`, subscriberNotebookID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list live mirrored: %w", err)
	}
	defer rows.Close()

	var result []domain.MirroredContent
	for rows.Next() {
		var m domain.MirroredContent
		var claims []byte
		if err := rows.Scan(&m.SubscriptionID, &m.SourceEntryID, &m.SourceSequence,
			&m.Title, &m.Body, &claims, &m.Tombstoned, &m.MirroredAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan mirrored: %w", err)
		}
		if len(claims) > 0 {
			if err := json.Unmarshal(claims, &m.Claims); err != nil {
				return nil, fmt.Errorf("postgres: mirrored claims decode: %w", err)
			}
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
