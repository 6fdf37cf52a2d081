package domain

import "time"

// ExportBundle — подписанный снапшот для air-gapped обмена.
// Подпись (ed25519) покрывает каноническую сериализацию всех полей, кроме
// самой подписи: ключи отсортированы, без лишних пробелов. Импорт обязан
// быть атомарным: битая подпись => бандл не применяется вообще.
type ExportBundle struct {
	SourceID        string            `json:"source_id"` // Ноутбук-источник
	Scope           SubscriptionScope `json:"scope"`
	SinceSequence   int64             `json:"since_sequence"`
	ThroughSequence int64             `json:"through_sequence"`
	Entries         []SourceItem      `json:"entries"`
	ExportedAt      time.Time         `json:"exported_at"`

	// Signature — base64(ed25519) поверх канонического JSON остальных полей.
	Signature string `json:"signature"`
}
