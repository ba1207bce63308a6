package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	cfg := newTestConfig(t, true)
	token, expiresAt, err := generateJWT("alice", cfg, time.Now())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := validateJWT(token, cfg)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "alice", claims.Subject)
	assert.Len(t, claims.ID, 64)
}

func TestValidateJWT_Rejects(t *testing.T) {
	cfg := newTestConfig(t, true)

	expired, _, err := generateJWT("alice", cfg, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	other := newTestConfig(t, true)
	other.Auth.JWTSecret = "a-completely-different-signing-key-000"
	foreign, _, err := generateJWT("alice", other, time.Now())
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username:         "alice",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: jwtIssuer},
	}).SignedString([]byte(cfg.Auth.JWTSecret))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":   expired,
		"wrong key": foreign,
		"alg none":  none,
		"no expiry": noExpiry,
		"malformed": "a.b.c",
		"empty":     "",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := validateJWT(token, cfg)
			assert.Error(t, err)
		})
	}
}

func TestGenerateJTI_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := generateJTI()
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
