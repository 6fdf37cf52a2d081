package domain

import (
	"errors"
	"time"
)

// SubscriptionScope — что именно зеркалируется из источника.
// Ветвление по scope происходит один раз в начале sync-цикла,
// а не размазывается условиями по коду.
type SubscriptionScope string

const (
	ScopeCatalog SubscriptionScope = "catalog" // Только метаданные записей
	ScopeClaims  SubscriptionScope = "claims"  // Извлеченные утверждения
	ScopeEntries SubscriptionScope = "entries" // Полное содержимое + клеймы
)

func (s SubscriptionScope) Valid() bool {
	switch s {
	case ScopeCatalog, ScopeClaims, ScopeEntries:
		return true
	}
	return false
}

// SyncStatus — состояние конечного автомата синхронизации.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncRunning   SyncStatus = "syncing"
	SyncError     SyncStatus = "error"
	SyncSuspended SyncStatus = "suspended"
)

var ErrSubscriptionSuspended = errors.New("subscription is suspended")

// Subscription — направленное ребро subscriber -> source.
// Инварианты: метка подписчика доминирует над меткой источника (проверяется
// при создании и на каждом изменении классификации), граф подписок ацикличен.
// Мутируется только sync-движком (watermark, статус) либо явным действием
// администратора (удаление, фильтр тем).
type Subscription struct {
	ID                   string            `json:"id"` // UUID
	SubscriberNotebookID string            `json:"subscriber_notebook_id"`
	SourceNotebookID     string            `json:"source_notebook_id"`
	Scope                SubscriptionScope `json:"scope"`
	TopicFilter          string            `json:"topic_filter,omitempty"`

	// DiscountFactor ∈ (0,1] — вес кросс-граничного сравнения.
	DiscountFactor float64 `json:"discount_factor"`

	PollInterval  time.Duration `json:"poll_interval"`
	SyncWatermark int64         `json:"sync_watermark"` // Последний обработанный source_sequence
	SyncStatus    SyncStatus    `json:"sync_status"`
	SyncError     string        `json:"sync_error,omitempty"`

	// Экспоненциальный бэкофф: удваиваем эффективный интервал на каждый
	// последовательный провал, сбрасываем при успехе.
	ConsecutiveFailures int `json:"consecutive_failures"`

	LastSyncAt    time.Time `json:"last_sync_at"`
	MirroredCount int64     `json:"mirrored_count"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectivePollInterval возвращает интервал с учетом бэкоффа, ограниченный сверху.
func (s *Subscription) EffectivePollInterval(backoffCap time.Duration) time.Duration {
	interval := s.PollInterval
	for i := 0; i < s.ConsecutiveFailures; i++ {
		interval *= 2
		if interval >= backoffCap {
			return backoffCap
		}
	}
	return interval
}

// DueAt — момент, когда подписка снова подлежит синхронизации.
func (s *Subscription) DueAt(backoffCap time.Duration) time.Time {
	return s.LastSyncAt.Add(s.EffectivePollInterval(backoffCap))
}

// Syncable — допускается ли подписка к планированию.
func (s *Subscription) Syncable() bool {
	return s.SyncStatus != SyncSuspended
}

// Staleness — возраст данных подписки на момент now.
// Для suspended это основной админский сигнал «данные заморожены».
func (s *Subscription) Staleness(now time.Time) time.Duration {
	if s.LastSyncAt.IsZero() {
		return 0
	}
	return now.Sub(s.LastSyncAt)
}
