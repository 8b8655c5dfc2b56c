package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ManuelReschke/PropServe/internal/pkg/env"
)

const DefaultSessionTTL = 7 * 24 * time.Hour

var (
	ErrTokenExpired = errors.New("session token has expired")
	ErrTokenInvalid = errors.New("invalid session token")
)

// SessionClaims are carried by the bearer token issued after registration.
type SessionClaims struct {
	AccountID uint   `json:"account_id"`
	PublicID  string `json:"public_id"`
	Kind      string `json:"kind"`
	Email     string `json:"email"`
	jwt.RegisteredClaims
}

// TokenService signs and validates HS256 session tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenService(signingKey, issuer string, ttl time.Duration) (*TokenService, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, errors.New("SESSION_TOKEN_SECRET is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{signingKey: []byte(signingKey), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// NewTokenServiceFromEnv reads SESSION_TOKEN_SECRET, SESSION_TOKEN_TTL and
// SESSION_TOKEN_ISSUER.
func NewTokenServiceFromEnv() (*TokenService, error) {
	return NewTokenService(
		env.GetEnv("SESSION_TOKEN_SECRET", ""),
		env.GetEnv("SESSION_TOKEN_ISSUER", "propserve"),
		env.GetEnvDuration("SESSION_TOKEN_TTL", DefaultSessionTTL),
	)
}

func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue returns a signed token for the account.
func (s *TokenService) Issue(accountID uint, publicID, kind, email string) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		AccountID: accountID,
		PublicID:  publicID,
		Kind:      kind,
		Email:     email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   publicID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (s *TokenService) Validate(tokenString string) (*SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
