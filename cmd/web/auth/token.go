package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "fishon-captain"

var ErrInvalidToken = errors.New("invalid bearer token")

// TokenClaims is the payload of an API bearer token. Subject is the captain id.
type TokenClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 bearer tokens for API clients such as
// the uploader.
type Tokens struct {
	secret []byte
	Now    func() time.Time
}

// NewTokens returns nil when secret is empty; bearer auth is then disabled.
func NewTokens(secret string) *Tokens {
	if secret == "" {
		return nil
	}
	return &Tokens{secret: []byte(secret), Now: time.Now}
}

func (t *Tokens) Issue(userID string, level AccessLevel, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("token subject is required")
	}
	now := t.Now()
	claims := TokenClaims{
		Role: string(level),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) Verify(raw string) (Identity, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.Now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	level := ParseAccessLevel(claims.Role)
	if level == AccessUnauthenticated {
		level = AccessUser
	}
	return Identity{UserID: claims.Subject, Level: level}, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}
