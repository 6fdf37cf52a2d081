package domain

import "time"

// AccessTier — уровень доступа к ноутбуку. Полностью упорядочен по возможностям.
type AccessTier int

const (
	TierNone      AccessTier = 0 // Доступа нет, существование скрыто
	TierExistence AccessTier = 1 // Видно, что ноутбук есть (имя, метка)
	TierRead      AccessTier = 2
	TierReadWrite AccessTier = 3
	TierAdmin     AccessTier = 4
)

var tierNames = map[AccessTier]string{
	TierNone:      "none",
	TierExistence: "existence",
	TierRead:      "read",
	TierReadWrite: "read_write",
	TierAdmin:     "admin",
}

func (t AccessTier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return "none"
}

// AtLeast — проверка достаточности tier для операции.
func (t AccessTier) AtLeast(required AccessTier) bool { return t >= required }

// Notebook — помеченный контейнер знаний. Принадлежит группе;
// метка ноутбука обязана доминироваться допуском читателя.
type Notebook struct {
	ID           string        `json:"id"` // UUID
	OrgID        string        `json:"org_id"`
	OwnerGroupID string        `json:"owner_group_id"`
	Name         string        `json:"name"`
	Label        SecurityLabel `json:"label"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ACLEntry — запись списка доступа: грант принципалу ИЛИ группе.
// Ровно одно из PrincipalID/GroupID заполнено.
type ACLEntry struct {
	NotebookID  string     `json:"notebook_id"`
	PrincipalID string     `json:"principal_id,omitempty"`
	GroupID     string     `json:"group_id,omitempty"`
	Tier        AccessTier `json:"tier"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Entry — нативная запись ноутбука. Жизненный цикл (экстракция клеймов,
// эмбеддинг) управляется джобами; здесь только то, что нужно ядру.
type Entry struct {
	ID         string    `json:"id"` // UUID
	NotebookID string    `json:"notebook_id"`
	Title      string    `json:"title"`
	Body       string    `json:"body,omitempty"`
	Sequence   int64     `json:"sequence"` // Монотонный номер внутри ноутбука
	Deleted    bool      `json:"deleted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Claim — извлеченное из записи утверждение. Единица сравнения в compare-пайплайне.
type Claim struct {
	ID      string `json:"id"`
	EntryID string `json:"entry_id"`
	Text    string `json:"text"`
}
