package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/brain/internal/auth"
	"github.com/ashita-ai/brain/internal/testutil"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager(secret, time.Hour, testutil.TestLogger())
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken("ops@example.com", auth.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", claims.Actor())
	assert.Equal(t, auth.RoleAdmin, claims.Role)
}

func TestJWTRejectsOtherSecret(t *testing.T) {
	a, err := auth.NewJWTManager(secret, time.Hour, testutil.TestLogger())
	require.NoError(t, err)
	b, err := auth.NewJWTManager("fedcba9876543210fedcba9876543210", time.Hour, testutil.TestLogger())
	require.NoError(t, err)

	token, _, err := a.IssueToken("ops", auth.RoleAdmin)
	require.NoError(t, err)
	_, err = b.ValidateToken(token)
	assert.Error(t, err)
}

func TestJWTEphemeralSecret(t *testing.T) {
	mgr, err := auth.NewJWTManager("", time.Hour, testutil.TestLogger())
	require.NoError(t, err)
	token, _, err := mgr.IssueToken("dev", auth.RoleAdmin)
	require.NoError(t, err)
	_, err = mgr.ValidateToken(token)
	assert.NoError(t, err)
}

func TestJWTRejectsForgedTokens(t *testing.T) {
	mgr, err := auth.NewJWTManager(secret, time.Hour, testutil.TestLogger())
	require.NoError(t, err)
	now := time.Now()

	sign := func(claims auth.Claims, method jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	valid := func() auth.Claims {
		return auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "ops",
				Issuer:    "brain",
				Audience:  jwt.ClaimStrings{"brain-admin"},
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
			Role: auth.RoleAdmin,
		}
	}

	tests := []struct {
		name  string
		token func() string
	}{
		{"expired", func() string {
			c := valid()
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
			return sign(c, jwt.SigningMethodHS256, []byte(secret))
		}},
		{"no expiry", func() string {
			c := valid()
			c.ExpiresAt = nil
			return sign(c, jwt.SigningMethodHS256, []byte(secret))
		}},
		{"wrong audience", func() string {
			c := valid()
			c.Audience = jwt.ClaimStrings{"someone-else"}
			return sign(c, jwt.SigningMethodHS256, []byte(secret))
		}},
		{"wrong issuer", func() string {
			c := valid()
			c.Issuer = "other"
			return sign(c, jwt.SigningMethodHS256, []byte(secret))
		}},
		{"no subject", func() string {
			c := valid()
			c.Subject = ""
			return sign(c, jwt.SigningMethodHS256, []byte(secret))
		}},
		{"alg none", func() string {
			return sign(valid(), jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)
		}},
		{"garbage", func() string { return "not.a.token" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.ValidateToken(tt.token())
			assert.Error(t, err)
		})
	}
}
