package domain

import "time"

// ComparisonResult — записанный исход сравнения пары (entry, neighbor).
// RawScore хранится дословно, как его вернул агент; EffectiveScore — это
// raw * discount и только он участвует в агрегатах. После удаления подписки
// результаты не пересчитываются и не удаляются.
type ComparisonResult struct {
	ID         string `json:"id"` // UUID
	EntryID    string `json:"entry_id"`
	NeighborID string `json:"neighbor_id"`

	CrossBoundary  bool    `json:"cross_boundary"`
	SubscriptionID string  `json:"subscription_id,omitempty"` // Пусто для нативной пары
	RawScore       float64 `json:"raw_score"`
	DiscountFactor float64 `json:"discount_factor"`
	EffectiveScore float64 `json:"effective_score"`

	CreatedAt time.Time `json:"created_at"`
}
