package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims — клеймы токена консоли. PrincipalID и OrgID повторяют модель
// доступа: именно по ним работают резолвер и кэш допусков, поэтому токен без
// principal_id недействителен.
type AccessClaims struct {
	PrincipalID string          `json:"principal_id"`
	OrgID       string          `json:"org_id"`
	Scopes      map[string]bool `json:"scopes"` // Напр. "admin": true, "agent": true
	jwt.RegisteredClaims
}

// Secure Token Issuing
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

type User struct {
	ID           string          `json:"id"`
	PrincipalID  string          `json:"principal_id"` // Связь с моделью доступа
	OrgID        string          `json:"org_id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем на фронт
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
