package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account stored in the credential store.
type User struct {
	ID        uuid.UUID
	Phone     string
	FullName  string
	PassHash  []byte
	IsActive  bool
	CreatedAt time.Time
}
