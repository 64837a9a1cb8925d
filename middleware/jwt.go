package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrMissingSubject = errors.New("token has no subject")
)

// HMACTokenValidator validates HS256 tokens signed with a shared secret
type HMACTokenValidator struct {
	secret []byte
	issuer string
}

// NewHMACTokenValidator creates a validator. An empty issuer accepts any issuer.
func NewHMACTokenValidator(secret, issuer string) *HMACTokenValidator {
	return &HMACTokenValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// ValidateToken verifies signature, expiry, and issuer, and returns the claims
func (v *HMACTokenValidator) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	registered := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, registered, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	if registered.Subject == "" {
		return nil, ErrMissingSubject
	}

	claims := &Claims{
		Sub: registered.Subject,
		Iss: registered.Issuer,
	}
	if registered.ExpiresAt != nil {
		claims.Exp = registered.ExpiresAt.Unix()
	}
	if registered.IssuedAt != nil {
		claims.Iat = registered.IssuedAt.Unix()
	}
	return claims, nil
}

// SignToken issues an HS256 token for subject valid for ttl
func (v *HMACTokenValidator) SignToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
