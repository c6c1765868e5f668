package models

import (
	"time"

	"github.com/google/uuid"
)

// PasskeyCredential is a registered WebAuthn credential bound to a user.
// CredentialID is the raw authenticator-assigned identifier and is unique
// across all users.
type PasskeyCredential struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	CredentialID []byte
	PublicKey    []byte
	UserHandle   []byte
	SignCount    uint32
	CredType     string
	AAGUID       []byte
	RegisteredAt time.Time
	LastUsedAt   *time.Time
}
