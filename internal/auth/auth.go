// Package auth verifies the bearer tokens minted by the account service.
// Tokens are HS256 JWTs carrying the user identity; verified claims are
// cached so a chatty client does not re-verify on every request.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret      string
	TokenExpiry time.Duration
}

type Verifier struct {
	secret []byte
	expiry time.Duration

	// verified caches token -> claims for the cache TTL, which is kept
	// well below token expiry so a cached hit can never outlive the token.
	verified geche.Geche[string, Claims]
}

func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth secret is required")
	}
	cacheTTL := 5 * time.Minute
	if cfg.TokenExpiry > 0 && cfg.TokenExpiry < cacheTTL {
		cacheTTL = cfg.TokenExpiry / 2
	}
	return &Verifier{
		secret:   []byte(cfg.Secret),
		expiry:   cfg.TokenExpiry,
		verified: geche.NewMapTTLCache[string, Claims](ctx, cacheTTL, time.Minute),
	}, nil
}

// Verify parses and validates a bearer token and returns its claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	if claims, err := v.verified.Get(token); err == nil {
		return claims, nil
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		return Claims{}, ErrInvalidToken
	}

	v.verified.Set(token, claims)
	return claims, nil
}

// Issue mints a token for the user. The admin API uses this to provision
// accounts without a round-trip to the account service.
func (v *Verifier) Issue(userID, username, displayName string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.expiry)),
			Subject:   userID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
