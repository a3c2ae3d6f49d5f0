package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/pinboard/internal/apperr"
)

type userKey struct{}

// WithUser returns a context carrying the authenticated user id.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the authenticated user id, or "" when absent.
func UserFrom(ctx context.Context) string {
	u, _ := ctx.Value(userKey{}).(string)
	return u
}

// Authenticator resolves the caller's identity from a request.
//
// With auth disabled every request acts as localUser. Otherwise the
// request must carry "Authorization: Bearer <jwt>" signed with secret
// (HS256); the token subject is the user id.
type Authenticator struct {
	enabled   bool
	secret    []byte
	localUser string
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(enabled bool, secret, localUser string) *Authenticator {
	return &Authenticator{enabled: enabled, secret: []byte(secret), localUser: localUser}
}

// Authenticate returns the user id for r.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	if !a.enabled {
		if a.localUser == "" {
			return "", fmt.Errorf("api: no local user: %w", apperr.ErrUnauthenticated)
		}
		return a.localUser, nil
	}
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", fmt.Errorf("api: missing bearer token: %w", apperr.ErrUnauthenticated)
	}
	return ParseToken(string(a.secret), strings.TrimPrefix(auth, "Bearer "))
}

// IssueToken signs a token for user valid for ttl. A non-positive ttl
// issues a token without expiry.
func IssueToken(secret, user string, ttl time.Duration) (string, error) {
	if user == "" {
		return "", fmt.Errorf("api: issue token: %w", apperr.ErrUnauthenticated)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  user,
		IssuedAt: jwt.NewNumericDate(now),
		Issuer:   "pinboard",
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("api: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies raw and returns its subject.
func ParseToken(secret, raw string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("api: %w: %w", apperr.ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("api: token has no subject: %w", apperr.ErrUnauthenticated)
	}
	return claims.Subject, nil
}

var errNoUser = errors.New("unauthorized")
