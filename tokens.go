package gatehouse

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer mints and verifies short-lived HS256 bearer tokens for
// programmatic API clients. Browser traffic uses the session cookie; scripts
// and integrations send the token in the Authorization header and the Guard
// accepts either.
type TokenIssuer struct {
	// SecretKey signs tokens. Falls back to GATEHOUSE_JWT_SECRET_KEY.
	SecretKey string

	// Issuer claim. Defaults to "Gatehouse".
	Issuer string

	// Expiry defaults to 1 hour.
	Expiry time.Duration
}

func (t *TokenIssuer) EnsureDefaults() *TokenIssuer {
	if t.SecretKey == "" {
		t.SecretKey = strings.TrimSpace(os.Getenv("GATEHOUSE_JWT_SECRET_KEY"))
	}
	if t.Issuer == "" {
		t.Issuer = "Gatehouse"
	}
	if t.Expiry <= 0 {
		t.Expiry = time.Hour
	}
	return t
}

// Issue signs a token for username.
func (t *TokenIssuer) Issue(username string) (string, error) {
	t.EnsureDefaults()
	if t.SecretKey == "" {
		return "", fmt.Errorf("no signing key configured")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"iss": t.Issuer,
		"iat": now.Unix(),
		"exp": now.Add(t.Expiry).Unix(),
	})
	return token.SignedString([]byte(t.SecretKey))
}

// Verify parses and validates a token, returning the subject username.
func (t *TokenIssuer) Verify(tokenString string) (string, error) {
	t.EnsureDefaults()
	if t.SecretKey == "" {
		return "", fmt.Errorf("no signing key configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(t.SecretKey), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || claims == nil {
		return "", fmt.Errorf("claims is not a map")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("subject not found")
	}
	return sub, nil
}
