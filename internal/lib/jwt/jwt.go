package jwt

import (
	"fmt"
	"time"

	"authd/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer mints signed access tokens. It has no side effects: a token is a
// pure function of the user, the signing key and the clock.
type Issuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewIssuer returns an Issuer signing HS256 tokens with the given secret.
func NewIssuer(secret, issuer, audience string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		now:      time.Now,
	}
}

// GenerateToken creates an access JWT with identity claims and a fresh
// unique token ID, returning the signed token, its jti and TTL in seconds.
// Extra claims are merged in after the standard set.
func (i *Issuer) GenerateToken(user *models.User, extra map[string]any) (token string, jti string, expiresIn int64, err error) {
	now := i.now()
	expires := now.Add(i.ttl)
	jti = uuid.NewString()

	claims := jwt.MapClaims{
		"sub":      user.ID.String(),
		"jti":      jti,
		"phone":    user.Phone,
		"fullname": user.FullName,
		"iss":      i.issuer,
		"aud":      i.audience,
		"iat":      now.Unix(),
		"nbf":      now.Unix(),
		"exp":      expires.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(i.secret)
	if err != nil {
		return "", "", 0, err
	}

	return token, jti, int64(i.ttl.Seconds()), nil
}

// ParseToken parses and validates a JWT token, returning the claims.
func ParseToken(tokenString string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}
