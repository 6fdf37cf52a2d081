package domain

import "time"

// GroupRole — роль участника внутри группы.
type GroupRole string

const (
	RoleMember GroupRole = "member"
	RoleAdmin  GroupRole = "admin"
)

// Group — узел организационного DAG. Эффективная метка группы — это join
// (max уровень, объединение компартментов) по всем родительским ребрам плюс
// локальные добавки. Считается в directory.DAG, здесь только данные.
type Group struct {
	ID    string `json:"id"` // UUID
	OrgID string `json:"org_id"`
	Name  string `json:"name"`

	// Локальная часть метки: уровень и компартменты, добавленные самой группой.
	// Эффективная метка никогда не ниже меток родителей.
	LocalLabel SecurityLabel `json:"local_label"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupEdge — ребро parent -> child. Инвариант ацикличности проверяется
// при вставке (directory.DAG.AddEdge), а не предполагается при обходе.
type GroupEdge struct {
	ParentID string `json:"parent_id"`
	ChildID  string `json:"child_id"`
}

// Membership — членство принципала в группе.
type Membership struct {
	PrincipalID string    `json:"principal_id"`
	GroupID     string    `json:"group_id"`
	Role        GroupRole `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
