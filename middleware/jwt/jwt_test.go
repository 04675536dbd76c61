package jwt

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(now *time.Time) *TokenManager {
	tm := NewTokenManager("test-secret", 24, 2)
	tm.now = func() time.Time { return *now }
	return tm
}

func TestGenerateAndParse(t *testing.T) {
	now := time.Now()
	tm := newManager(&now)

	token, err := tm.GenerateToken("u1", "Alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, issuer, claims.Issuer)

	_, err = tm.GenerateToken("", "nobody")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseToken_Errors(t *testing.T) {
	now := time.Now()
	tm := newManager(&now)
	token, err := tm.GenerateToken("u1", "")
	require.NoError(t, err)

	t.Run("garbage", func(t *testing.T) {
		_, err := tm.ParseToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("other-secret", 24, 2)
		_, err := other.ParseToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		later := now.Add(25 * time.Hour)
		_, err := newManager(&later).ParseToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("not yet valid", func(t *testing.T) {
		earlier := now.Add(-time.Hour)
		_, err := newManager(&earlier).ParseToken(token)
		assert.ErrorIs(t, err, ErrTokenNotYetValid)
	})

	t.Run("unsigned", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, Subject: "u1"}}
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = tm.ParseToken(unsigned)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("foreign issuer", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "elsewhere",
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}}
		foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err)
		_, err = tm.ParseToken(foreign)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestAuthorize(t *testing.T) {
	now := time.Now()
	tm := newManager(&now)
	token, err := tm.GenerateToken("u1", "Alice")
	require.NoError(t, err)

	claims, err := tm.Authorize(token, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID())

	_, err = tm.Authorize(token, "u2")
	assert.ErrorIs(t, err, ErrUserMismatch)
}

func TestRefreshToken(t *testing.T) {
	issued := time.Now().Truncate(time.Second)
	now := issued
	tm := newManager(&now)
	token, err := tm.GenerateToken("u1", "Alice")
	require.NoError(t, err)

	// 距过期超过刷新窗口
	_, err = tm.RefreshToken(token)
	assert.ErrorIs(t, err, ErrNotRefreshable)

	now = issued.Add(23 * time.Hour)
	refreshed, err := tm.RefreshToken(token)
	require.NoError(t, err)
	claims, err := tm.ParseToken(refreshed)
	require.NoError(t, err)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.True(t, claims.ExpiresAt.Time.After(issued.Add(24*time.Hour)))

	now = issued.Add(25 * time.Hour)
	_, err = tm.RefreshToken(token)
	assert.NoError(t, err)

	now = issued.Add(27 * time.Hour)
	_, err = tm.RefreshToken(token)
	assert.ErrorIs(t, err, ErrNotRefreshable)

	_, err = tm.RefreshToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
