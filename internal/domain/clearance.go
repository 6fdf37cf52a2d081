package domain

import "time"

// Principal — человек или сервисная учетка. Права не хранятся здесь:
// допуски живут в Clearance, членство в группах — в Membership.
type Principal struct {
	ID        string    `json:"id"` // UUID
	Name      string    `json:"name"`
	Kind      string    `json:"kind"` // "user" или "service"
	CreatedAt time.Time `json:"created_at"`
}

// Clearance — допуск принципала в рамках организации: максимальная метка,
// которой могут доминироваться читаемые им объекты.
type Clearance struct {
	PrincipalID string        `json:"principal_id"`
	OrgID       string        `json:"org_id"`
	MaxLabel    SecurityLabel `json:"max_label"`

	GrantedBy string    `json:"granted_by"` // UUID администратора организации
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClearanceKey — ключ кэша допусков. Отзыв обязан перестать действовать
// не позже настроенного TTL кэша (bounded staleness, см. access.ClearanceCache).
type ClearanceKey struct {
	PrincipalID string
	OrgID       string
}

func (c Clearance) Key() ClearanceKey {
	return ClearanceKey{PrincipalID: c.PrincipalID, OrgID: c.OrgID}
}
