// Package auth inspects and refreshes the bearer tokens the sync core
// consumes, and issues short-lived tokens for the development backend.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/UillB/appointmets-bot-sub003/internal/pkg/errors"
)

// Claims are the JWT claims carried by push and REST tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// IssuerConfig holds signing configuration for issued tokens.
type IssuerConfig struct {
	SigningKey []byte
	Issuer     string
}

// DefaultIssuer is used when IssuerConfig.Issuer is empty.
const DefaultIssuer = "realtime-devserver"

func (c IssuerConfig) issuer() string {
	if c.Issuer == "" {
		return DefaultIssuer
	}
	return c.Issuer
}

// GenerateToken signs an HS256 token for userID valid for ttl.
func GenerateToken(cfg IssuerConfig, userID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.issuer(),
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, expiry and issuer.
func ValidateToken(cfg IssuerConfig, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, apperrors.Unauthorized(apperrors.CodeNoCredentials, "missing token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.SigningKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.issuer()),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.Wrap(err, apperrors.CodeTokenExpired, "token expired", http.StatusUnauthorized)
		}
		return nil, apperrors.Wrap(err, apperrors.CodeTokenInvalid, "invalid token", http.StatusUnauthorized)
	}
	if !token.Valid {
		return nil, apperrors.Unauthorized(apperrors.CodeTokenInvalid, "invalid token claims")
	}
	return claims, nil
}

// TokenExpiry reads the exp claim without verifying the signature. The
// client never holds the signing key; it only needs to know when to ask
// for a fresh token. ok is false for opaque or exp-less tokens.
func TokenExpiry(tokenString string) (exp time.Time, ok bool) {
	if tokenString == "" {
		return time.Time{}, false
	}
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
