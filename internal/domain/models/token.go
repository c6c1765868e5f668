package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken represents a refresh token stored in the database.
// Only the SHA-256 hash of the opaque secret is persisted; records are
// never deleted so rotation chains stay auditable.
type RefreshToken struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	TokenHash      string
	JwtID          string
	CreatedAt      time.Time
	CreatedByIP    string
	ExpiresAt      time.Time
	RevokedAt      *time.Time
	ReplacedByHash *string
}

// IsRevoked reports whether the token has been rotated out or logged out.
func (t *RefreshToken) IsRevoked() bool {
	return t.RevokedAt != nil
}

// IsExpired reports whether the token has passed its expiry at the given time.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// TokenPair is the response shape returned by login, register and refresh.
type TokenPair struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}
