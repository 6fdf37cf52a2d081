package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

const subscriptionColumns = `
	id, subscriber_notebook_id, source_notebook_id, scope, topic_filter,
	discount_factor, poll_interval_seconds, sync_watermark, sync_status,
	COALESCE(sync_error, ''), consecutive_failures, last_sync_at, mirrored_count,
	created_by, created_at, updated_at`

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	sub := &domain.Subscription{}
	var pollSeconds int64
	var lastSync *time.Time
	err := row.Scan(
		&sub.ID, &sub.SubscriberNotebookID, &sub.SourceNotebookID, &sub.Scope, &sub.TopicFilter,
		&sub.DiscountFactor, &pollSeconds, &sub.SyncWatermark, &sub.SyncStatus,
		&sub.SyncError, &sub.ConsecutiveFailures, &lastSync, &sub.MirroredCount,
		&sub.CreatedBy, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	sub.PollInterval = time.Duration(pollSeconds) * time.Second
	if lastSync != nil {
		sub.LastSyncAt = *lastSync
	}
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("postgres: get subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptionsBySubscriber — подписки конкретного ноутбука (для API списка).
func (s *Store) ListSubscriptionsBySubscriber(ctx context.Context, notebookID string) ([]*domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE subscriber_notebook_id = $1 ORDER BY created_at`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListAllSubscriptions — полная выборка для планировщика синка.
// Масштаб по спецификации — тысячи строк, полная выборка дешевле
// инкрементальной машинерии.
func (s *Store) ListAllSubscriptions(ctx context.Context) ([]*domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list all subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

// ListSubscriptionsBySource — кто подписан на данный источник
// (переоценка при изменении его классификации).
func (s *Store) ListSubscriptionsBySource(ctx context.Context, sourceNotebookID string) ([]*domain.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE source_notebook_id = $1`, sourceNotebookID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by source: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*domain.Subscription, error) {
	var result []*domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan subscription: %w", err)
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

// CreateSubscriptionValidated вставляет подписку внутри одной транзакции
// с проверками. Advisory-блокировка сериализует конкурентные создания:
// без нее два одновременных инсерта могут вдвоем пройти проверку цикла.
// validate получает актуальный список ребер (subscriber, source),
// прочитанный уже под блокировкой.
func (s *Store) CreateSubscriptionValidated(ctx context.Context, sub *domain.Subscription, validate func(edges [][2]string) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('subscriptions'))`); err != nil {
		return fmt.Errorf("postgres: advisory lock: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT subscriber_notebook_id, source_notebook_id FROM subscriptions`)
	if err != nil {
		return fmt.Errorf("postgres: edges under lock: %w", err)
	}
	var edges [][2]string
	for rows.Next() {
		var e [2]string
		if err := rows.Scan(&e[0], &e[1]); err != nil {
			rows.Close()
			return fmt.Errorf("postgres: scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if err := validate(edges); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions
			(id, subscriber_notebook_id, source_notebook_id, scope, topic_filter,
			 discount_factor, poll_interval_seconds, sync_watermark, sync_status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9)`,
		sub.ID, sub.SubscriberNotebookID, sub.SourceNotebookID, sub.Scope, sub.TopicFilter,
		sub.DiscountFactor, int64(sub.PollInterval/time.Second), domain.SyncIdle, sub.CreatedBy)
	if err != nil {
		return fmt.Errorf("postgres: insert subscription: %w", err)
	}
	return tx.Commit(ctx)
}

// DeleteSubscriptionCascade удаляет подписку вместе с зеркальным контентом
// и отменяет незавершенные джобы по нему — одной транзакцией.
// Исторические результаты сравнений НЕ трогаем.
func (s *Store) DeleteSubscriptionCascade(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $1, updated_at = NOW()
		WHERE status IN ($2, $3) AND payload->>'subscription_id' = $4`,
		domain.JobCanceled, domain.JobPending, domain.JobRunning, id); err != nil {
		return fmt.Errorf("postgres: cancel jobs: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM mirrored_content WHERE subscription_id = $1`, id); err != nil {
		return fmt.Errorf("postgres: delete mirrored: %w", err)
	}

	ct, err := tx.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete subscription: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return tx.Commit(ctx)
}

// MarkSyncing переводит подписку в syncing. CAS по статусу гарантирует,
// что два воркера не возьмут одну подписку (strict per-subscription serialization).
func (s *Store) MarkSyncing(ctx context.Context, id string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET sync_status = $1, updated_at = NOW()
		WHERE id = $2 AND sync_status NOT IN ($1, $3)`,
		domain.SyncRunning, id, domain.SyncSuspended)
	if err != nil {
		return false, fmt.Errorf("postgres: mark syncing: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// FinishSyncOK фиксирует успешный цикл: watermark, счетчик, сброс бэкоффа.
func (s *Store) FinishSyncOK(ctx context.Context, id string, watermark, mirroredCount int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET sync_status = $1, sync_error = NULL, consecutive_failures = 0,
		    sync_watermark = $2, mirrored_count = $3, last_sync_at = NOW(), updated_at = NOW()
		WHERE id = $4`,
		domain.SyncIdle, watermark, mirroredCount, id)
	if err != nil {
		return fmt.Errorf("postgres: finish sync: %w", err)
	}
	return nil
}

// FinishSyncError фиксирует провал: статус error, сообщение, инкремент бэкоффа.
// last_sync_at тоже двигаем — от него отсчитывается следующая попытка.
func (s *Store) FinishSyncError(ctx context.Context, id string, syncErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET sync_status = $1, sync_error = $2,
		    consecutive_failures = consecutive_failures + 1,
		    last_sync_at = NOW(), updated_at = NOW()
		WHERE id = $3`,
		domain.SyncError, syncErr, id)
	if err != nil {
		return fmt.Errorf("postgres: finish sync error: %w", err)
	}
	return nil
}

// SetSyncStatus — прямой перевод статуса (suspended и обратно).
func (s *Store) SetSyncStatus(ctx context.Context, id string, status domain.SyncStatus, reason string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET sync_status = $1, sync_error = NULLIF($2, ''), updated_at = NOW()
		WHERE id = $3`, status, reason, id)
	if err != nil {
		return fmt.Errorf("postgres: set sync status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateTopicFilter — единственная админ-мутация помимо удаления.
func (s *Store) UpdateTopicFilter(ctx context.Context, id, filter string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE subscriptions SET topic_filter = $1, updated_at = NOW() WHERE id = $2`, filter, id)
	if err != nil {
		return fmt.Errorf("postgres: update topic filter: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
