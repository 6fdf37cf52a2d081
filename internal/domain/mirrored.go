package domain

import "time"

// SourceItem — единица, полученная из ноутбука-источника за один sync-батч.
// Это то, что отдает source.ContentSource (локальный или удаленный).
type SourceItem struct {
	EntryID  string  `json:"entry_id"`
	Sequence int64   `json:"sequence"` // Монотонный номер изменения в источнике
	Title    string  `json:"title"`
	Body     string  `json:"body,omitempty"`
	Claims   []Claim `json:"claims,omitempty"`
	Deleted  bool    `json:"deleted"` // Удаление в источнике => tombstone у подписчика
}

// MirroredContent — отзеркаленная запись в хранилище подписчика.
// Ключ идемпотентности — (SubscriptionID, SourceEntryID).
// НИКОГДА не сливается с нативными записями: отдельная таблица, отдельные
// пути чтения, нет собственного жизненного цикла (клеймы не переизвлекаются).
type MirroredContent struct {
	SubscriptionID string `json:"subscription_id"`
	SourceEntryID  string `json:"source_entry_id"`
	SourceSequence int64  `json:"source_sequence"`

	Title  string  `json:"title"`
	Body   string  `json:"body,omitempty"` // Пусто для scope=catalog/claims
	Claims []Claim `json:"claims,omitempty"`

	// Tombstoned: источник удалил запись. Строка сохраняется для аудита,
	// из поиска исключается фильтром live.
	Tombstoned bool `json:"tombstoned"`

	MirroredAt time.Time `json:"mirrored_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Live — участвует ли строка в поиске соседей.
func (m *MirroredContent) Live() bool { return !m.Tombstoned }
