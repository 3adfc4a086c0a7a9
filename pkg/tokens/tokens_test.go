package tokens

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func signAccess(t *testing.T, claims AccessClaims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func signRefresh(t *testing.T, claims RefreshClaims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestAccessClaimsFromToken(t *testing.T) {
	t.Parallel()

	raw := signAccess(t, AccessClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}, secret)

	claims, err := AccessClaimsFromToken(raw, secret)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "42", claims.Subject)

	_, err = AccessClaimsFromToken(raw, []byte("other-secret"))
	assert.Error(t, err)
}

func TestAccessClaimsFromToken_Expired(t *testing.T) {
	t.Parallel()

	raw := signAccess(t, AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}, secret)

	_, err := AccessClaimsFromToken(raw, secret)
	assert.True(t, errors.Is(err, jwt.ErrTokenExpired), "expiry must be detectable with errors.Is")
}

func TestRefreshClaimsFromToken_TypeGuard(t *testing.T) {
	t.Parallel()

	// A valid access-style token must not pass as a refresh token.
	raw := signRefresh(t, RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}, secret)

	_, err := RefreshClaimsFromToken(raw, secret)
	assert.Error(t, err)

	raw = signRefresh(t, RefreshClaims{
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "42",
			ID:        "jti-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}, secret)

	claims, err := RefreshClaimsFromToken(raw, secret)
	require.NoError(t, err)
	assert.Equal(t, "jti-1", claims.ID)
}
