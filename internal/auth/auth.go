// Package auth provides JWT bearer authentication for the admin API.
//
// Tokens are HS256-signed with a shared secret. The token subject is the
// actor recorded on governance actions such as audit deletion.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer   = "brain"
	audience = "brain-admin"
)

// RoleAdmin is the only role the admin API accepts.
const RoleAdmin = "admin"

// Claims extends jwt.RegisteredClaims with the caller's role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Actor is the identity recorded for governance actions.
func (c *Claims) Actor() string { return c.Subject }

// JWTManager issues and validates admin tokens.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a JWTManager over secret.
// An empty secret generates an ephemeral one (for development).
func NewJWTManager(secret string, expiration time.Duration, logger *slog.Logger) (*JWTManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		logger.Warn("auth: no BRAIN_JWT_SECRET configured, generating ephemeral secret (not for production)")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
	}
	if expiration <= 0 {
		expiration = time.Hour
	}
	return &JWTManager{secret: key, expiration: expiration}, nil
}

// IssueToken creates a signed token for actor with the given role.
func (m *JWTManager) IssueToken(actor, role string) (string, time.Time, error) {
	if actor == "" {
		return "", time.Time{}, errors.New("auth: actor is required")
	}
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Role: role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a token, returning its claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}
	return claims, nil
}
