package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// GetUserByUsername — источник правды для аутентификации консоли.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `
		SELECT id, principal_id, org_id, email, username, password_hash, scopes, created_at, updated_at
		FROM users WHERE username = $1`

	u := &domain.User{}
	var scopes []byte
	err := s.pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.PrincipalID, &u.OrgID, &u.Email, &u.Username, &u.PasswordHash, &scopes, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &u.Scopes); err != nil {
			return nil, fmt.Errorf("postgres: user scopes decode: %w", err)
		}
	}
	return u, nil
}
