package postgres

import (
	"context"
	"fmt"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// ListGroups выполняет "холодную загрузку" всех групп организации
// для построения adjacency в directory.DAG.
func (s *Store) ListGroups(ctx context.Context, orgID string) ([]domain.Group, error) {
	query := `
		SELECT id, org_id, name, level, compartments, created_at, updated_at
		FROM groups WHERE org_id = $1`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list groups: %w", err)
	}
	defer rows.Close()

	var result []domain.Group
	for rows.Next() {
		var g domain.Group
		var level int
		var compartments []string
		if err := rows.Scan(&g.ID, &g.OrgID, &g.Name, &level, &compartments, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan group: %w", err)
		}
		g.LocalLabel = domain.NewLabel(domain.ClassLevel(level), compartments...)
		result = append(result, g)
	}
	return result, rows.Err()
}

// ListGroupEdges возвращает все ребра parent->child организации.
func (s *Store) ListGroupEdges(ctx context.Context, orgID string) ([]domain.GroupEdge, error) {
	query := `
		SELECT e.parent_id, e.child_id
		FROM group_edges e
		JOIN groups g ON g.id = e.parent_id
		WHERE g.org_id = $1`

	rows, err := s.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list group edges: %w", err)
	}
	defer rows.Close()

	var result []domain.GroupEdge
	for rows.Next() {
		var e domain.GroupEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID); err != nil {
			return nil, fmt.Errorf("postgres: scan group edge: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// InsertGroupEdge вставляет ребро внутри транзакции с advisory-блокировкой
// на организацию: два конкурентных AddEdge не могут вдвоем пройти проверку
// цикла и вместе создать его. Проверку выполняет переданный validate-коллбек
// на ребрах, прочитанных УЖЕ ПОД блокировкой.
func (s *Store) InsertGroupEdge(ctx context.Context, orgID string, edge domain.GroupEdge, validate func(edges []domain.GroupEdge) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Сериализация мутаций DAG в рамках организации
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('group_edges:' || $1))`, orgID); err != nil {
		return fmt.Errorf("postgres: advisory lock: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT e.parent_id, e.child_id
		FROM group_edges e
		JOIN groups g ON g.id = e.parent_id
		WHERE g.org_id = $1`, orgID)
	if err != nil {
		return fmt.Errorf("postgres: edges under lock: %w", err)
	}
	var edges []domain.GroupEdge
	for rows.Next() {
		var e domain.GroupEdge
		if err := rows.Scan(&e.ParentID, &e.ChildID); err != nil {
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

	if _, err := tx.Exec(ctx,
		`INSERT INTO group_edges (parent_id, child_id) VALUES ($1, $2)`,
		edge.ParentID, edge.ChildID); err != nil {
		return fmt.Errorf("postgres: insert edge: %w", err)
	}
	return tx.Commit(ctx)
}

// ListMemberships возвращает членства принципала.
func (s *Store) ListMemberships(ctx context.Context, principalID string) ([]domain.Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT principal_id, group_id, role, created_at
		FROM memberships WHERE principal_id = $1`, principalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list memberships: %w", err)
	}
	defer rows.Close()

	var result []domain.Membership
	for rows.Next() {
		var m domain.Membership
		if err := rows.Scan(&m.PrincipalID, &m.GroupID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan membership: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}
