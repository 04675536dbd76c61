// Package jwt issues and verifies the bearer tokens a UI shell presents to
// the local intent API.
package jwt

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
	ErrUserMismatch     = errors.New("token issued for another user")
	ErrNotRefreshable   = errors.New("token outside refresh window")
)

const issuer = "chatsync"

// Claims 壳应用令牌声明，subject 即会话用户 id
type Claims struct {
	DisplayName string `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

type TokenManager struct {
	secret     []byte
	expireDur  time.Duration
	refreshDur time.Duration
	now        func() time.Time
}

func NewTokenManager(secret string, expireHours, refreshHours int) *TokenManager {
	return &TokenManager{
		secret:     []byte(secret),
		expireDur:  time.Duration(expireHours) * time.Hour,
		refreshDur: time.Duration(refreshHours) * time.Hour,
		now:        time.Now,
	}
}

func (tm *TokenManager) GenerateToken(userID, displayName string) (string, error) {
	if userID == "" {
		return "", ErrInvalidToken
	}
	now := tm.now()
	claims := Claims{
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expireDur)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

func (tm *TokenManager) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	return tm.secret, nil
}

func (tm *TokenManager) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, tm.keyFunc,
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, ErrTokenNotYetValid
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authorize parses tokenString and checks that it belongs to userID. The local
// API serves exactly one signed-in user.
func (tm *TokenManager) Authorize(tokenString, userID string) (*Claims, error) {
	claims, err := tm.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Subject != userID {
		return nil, ErrUserMismatch
	}
	return claims, nil
}

// RefreshToken issues a new token when the current one expires within the
// refresh window, or expired less than the window ago.
func (tm *TokenManager) RefreshToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, tm.keyFunc, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.ExpiresAt == nil || claims.Subject == "" {
		return "", ErrInvalidToken
	}

	now := tm.now()
	exp := claims.ExpiresAt.Time
	var gap time.Duration
	if now.After(exp) {
		gap = now.Sub(exp)
	} else {
		gap = exp.Sub(now)
	}
	if gap > tm.refreshDur {
		return "", ErrNotRefreshable
	}
	return tm.GenerateToken(claims.Subject, claims.DisplayName)
}
