package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobKind — дискриминатор полезной нагрузки джобы.
// Все виды делят одну очередь и общий конверт, но payload строго типизирован
// (tagged union), а не «мешок» map[string]interface{}.
type JobKind string

const (
	JobDistill       JobKind = "DISTILL"        // Извлечение клеймов из нативной записи
	JobEmbed         JobKind = "EMBED"          // Эмбеддинг нативных клеймов
	JobEmbedMirrored JobKind = "EMBED_MIRRORED" // Эмбеддинг отзеркаленных клеймов
	JobCompare       JobKind = "COMPARE"        // Сравнение пары (entry, neighbor)
)

type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobRunning JobStatus = "RUNNING"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
	// JobCanceled — выставляется каскадом при удалении подписки
	// для всех незавершенных джоб по ее зеркальному контенту.
	JobCanceled JobStatus = "CANCELED"
)

// JobEnvelope — общий конверт. Payload интерпретируется строго по Kind.
type JobEnvelope struct {
	ID        string          `json:"id"` // UUID
	Kind      JobKind         `json:"kind"`
	Status    JobStatus       `json:"status"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DistillPayload / EmbedPayload — нативный контур, ядро их только создает.
type DistillPayload struct {
	EntryID string `json:"entry_id"`
}

type EmbedPayload struct {
	EntryID  string   `json:"entry_id"`
	ClaimIDs []string `json:"claim_ids"`
}

// EmbedMirroredPayload — переэмбеддинг новых/измененных зеркальных клеймов.
type EmbedMirroredPayload struct {
	SubscriptionID string   `json:"subscription_id"`
	SourceEntryID  string   `json:"source_entry_id"`
	ClaimIDs       []string `json:"claim_ids"`
}

// ComparePayload — задание на сравнение записи с соседом.
// Для кросс-граничного соседа discount копируется из подписки В МОМЕНТ
// постановки (не перечитывается при исполнении), а исполнитель обязан иметь
// допуск на метку ПОДПИСЧИКА: с момента зеркалирования клеймы источника
// живут в периметре подписчика.
type ComparePayload struct {
	EntryID        string  `json:"entry_id"`
	NeighborID     string  `json:"neighbor_id"`
	CrossBoundary  bool    `json:"cross_boundary"`
	SubscriptionID string  `json:"subscription_id,omitempty"`
	DiscountFactor float64 `json:"discount_factor"`

	// RequiredLabel — метка, допуск на которую обязан иметь агент-исполнитель.
	// Для cross_boundary это всегда метка подписчика.
	RequiredLabel SecurityLabel `json:"required_label"`
}

// NewJob упаковывает типизированный payload в конверт.
func NewJob(id string, kind JobKind, payload interface{}) (JobEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return JobEnvelope{}, fmt.Errorf("job payload marshal: %w", err)
	}
	now := time.Now()
	return JobEnvelope{
		ID:        id,
		Kind:      kind,
		Status:    JobPending,
		Payload:   raw,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DecodePayload разбирает payload конверта в типизированную структуру по Kind.
func (e *JobEnvelope) DecodePayload() (interface{}, error) {
	var dst interface{}
	switch e.Kind {
	case JobDistill:
		dst = &DistillPayload{}
	case JobEmbed:
		dst = &EmbedPayload{}
	case JobEmbedMirrored:
		dst = &EmbedMirroredPayload{}
	case JobCompare:
		dst = &ComparePayload{}
	default:
		return nil, fmt.Errorf("unknown job kind: %q", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return nil, fmt.Errorf("job payload decode (%s): %w", e.Kind, err)
	}
	return dst, nil
}
