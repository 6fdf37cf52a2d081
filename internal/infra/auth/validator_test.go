package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/knowledge-mesh/internal/domain"
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *BaseValidator) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key, NewBaseValidator(&key.PublicKey)
}

func validClaims() *domain.AccessClaims {
	return &domain.AccessClaims{
		PrincipalID: "alice",
		OrgID:       "org1",
		Scopes:      map[string]bool{"admin": true},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func mint(t *testing.T, key *rsa.PrivateKey, claims *domain.AccessClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestVerifyToken(t *testing.T) {
	t.Parallel()

	key, v := testKeys(t)
	claims, err := v.VerifyToken("Bearer " + mint(t, key, validClaims()))
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.PrincipalID != "alice" || claims.OrgID != "org1" {
		t.Errorf("claims: got %s/%s", claims.PrincipalID, claims.OrgID)
	}
	if !claims.Scopes["admin"] {
		t.Error("admin scope lost")
	}
}

func TestVerifyTokenRejectsForeignIssuer(t *testing.T) {
	t.Parallel()

	key, v := testKeys(t)
	c := validClaims()
	c.Issuer = "someone-else"
	if _, err := v.VerifyToken(mint(t, key, c)); err == nil {
		t.Error("foreign issuer must be rejected")
	}
}

func TestVerifyTokenRejectsMissingPrincipal(t *testing.T) {
	t.Parallel()

	key, v := testKeys(t)
	c := validClaims()
	c.PrincipalID = ""
	if _, err := v.VerifyToken(mint(t, key, c)); err == nil {
		t.Error("token without principal must be rejected")
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	t.Parallel()

	key, v := testKeys(t)
	c := validClaims()
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	if _, err := v.VerifyToken(mint(t, key, c)); err == nil {
		t.Error("expired token must be rejected")
	}
}

func TestVerifyTokenRejectsWrongAlg(t *testing.T) {
	t.Parallel()

	_, v := testKeys(t)
	// HS256 с симметричным секретом: валидатор принимает только RS256.
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := v.VerifyToken(signed); err == nil {
		t.Error("HS256 token must be rejected")
	}
}
