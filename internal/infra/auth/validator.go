package auth

import (
	"crypto/rsa"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

// Issuer проставляется консолью при выпуске токена и проверяется здесь же:
// токен чужого деплоймента не принимается даже с валидной подписью.
const Issuer = "knowledge-mesh-console"

// BaseValidator содержит общую логику проверки RS256 и формы клеймов домена
type BaseValidator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewBaseValidator(pubKey *rsa.PublicKey) *BaseValidator {
	return &BaseValidator{
		publicKey: pubKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// VerifyToken реализует интерфейс auth.TokenValidator: подпись, issuer,
// срок действия и обязательный principal_id.
func (v *BaseValidator) VerifyToken(tokenStr string) (*domain.AccessClaims, error) {
	tokenStr = strings.TrimPrefix(tokenStr, "Bearer ")
	tokenStr = strings.TrimSpace(tokenStr)

	token, err := v.parser.ParseWithClaims(tokenStr, &domain.AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*domain.AccessClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims")
	}
	if claims.PrincipalID == "" {
		return nil, fmt.Errorf("token carries no principal")
	}

	return claims, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает []byte в объект для подписи. Закрытый ключ
// нужен только консоли: kernel токены не выпускает.
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
