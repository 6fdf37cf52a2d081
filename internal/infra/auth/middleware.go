package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/knowledge-mesh/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализует консоль через BaseValidator
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.AccessClaims, error)
}

// Тип для ключей в контексте (избегаем коллизий)
type ctxKey string

const (
	ctxKeyPrincipal ctxKey = "principal_id"
	ctxKeyOrg       ctxKey = "org_id"
	ctxKeyScopes    ctxKey = "user_scopes"
)

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем данные в контекст
			ctx := context.WithValue(r.Context(), ctxKeyScopes, claims.Scopes)
			ctx = context.WithValue(ctx, ctxKeyPrincipal, claims.PrincipalID)
			ctx = context.WithValue(ctx, ctxKeyOrg, claims.OrgID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext достает идентификатор принципала, положенный middleware.
func PrincipalFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyPrincipal).(string); ok {
		return id
	}
	return ""
}

// OrgFromContext достает организацию из токена.
func OrgFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyOrg).(string); ok {
		return id
	}
	return ""
}

// HasScope проверяет наличие скоупа в токене (например, "admin").
func HasScope(ctx context.Context, scope string) bool {
	scopes, ok := ctx.Value(ctxKeyScopes).(map[string]bool)
	return ok && scopes[scope]
}
