// Package signature signs and verifies request bodies exchanged with the
// broker and workers. A signature is an HS256 JWT whose "body" claim is the
// base64url SHA-256 of the raw body and whose subject is the target URL.
package signature

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Header carries the signature on signed requests.
const Header = "Upstash-Signature"

const (
	issuer     = "Upstash"
	defaultTTL = 5 * time.Minute
	leeway     = 10 * time.Second
)

var (
	ErrMissing       = errors.New("signature missing")
	ErrInvalid       = errors.New("signature invalid")
	ErrNotConfigured = errors.New("no signing key configured")
)

// Claims is the JWT payload.
type Claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// BodyHash is the value of the body claim for raw.
func BodyHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Signer produces signatures with one key.
type Signer struct {
	key []byte
	TTL time.Duration
	Now func() time.Time
}

// NewSigner returns nil when key is empty, so callers can treat a nil
// signer as "signing disabled".
func NewSigner(key string) *Signer {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	return &Signer{key: []byte(key), TTL: defaultTTL, Now: time.Now}
}

// Sign signs body for delivery to url.
func (s *Signer) Sign(url string, body []byte) (string, error) {
	if s == nil {
		return "", ErrNotConfigured
	}
	now := s.Now()
	claims := Claims{
		Body: BodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   url,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.TTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
}

// Verifier accepts signatures made with the current or the next key, so keys
// can be rotated without dropping in-flight messages.
type Verifier struct {
	keys [][]byte
	Now  func() time.Time
}

func NewVerifier(current, next string) *Verifier {
	v := &Verifier{Now: time.Now}
	for _, k := range []string{current, next} {
		if strings.TrimSpace(k) != "" {
			v.keys = append(v.keys, []byte(k))
		}
	}
	return v
}

// Configured reports whether any key is present.
func (v *Verifier) Configured() bool {
	return v != nil && len(v.keys) > 0
}

// Verify checks token against the raw body. An empty url skips the subject
// check; proxies in front of the receiver may rewrite the public URL.
func (v *Verifier) Verify(token, url string, body []byte) error {
	if !v.Configured() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(token) == "" {
		return ErrMissing
	}

	var lastErr error
	for _, key := range v.keys {
		claims, err := v.parse(token, key)
		if err != nil {
			lastErr = err
			continue
		}
		if url != "" && claims.Subject != url {
			return fmt.Errorf("%w: subject %q does not match %q", ErrInvalid, claims.Subject, url)
		}
		if strings.TrimRight(claims.Body, "=") != BodyHash(body) {
			return fmt.Errorf("%w: body hash mismatch", ErrInvalid)
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalid, lastErr)
}

func (v *Verifier) parse(token string, key []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(leeway),
		jwt.WithTimeFunc(v.Now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
