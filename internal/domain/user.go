// Package domain contains entity types without logic, just meta-data.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const MaxEmailLen = 254

var (
	ErrEmailEmpty   = errors.New("email empty")
	ErrEmailTooLong = errors.New("email too long")
)

type (
	// UserID is the stable identity key; it survives reconnects.
	UserID string

	// ConnectionID is transport-assigned, unique per live connection.
	// It is the addressing key for peer-mesh and media-state messages.
	ConnectionID string
)

type User struct {
	ID    UserID `json:"id"`
	Email string `json:"email"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(email string) (*User, error) {
	if len(email) == 0 {
		return nil, ErrEmailEmpty
	}
	if len(email) > MaxEmailLen {
		return nil, ErrEmailTooLong
	}
	return &User{ID: UserID(uuid.NewString()), Email: email}, nil
}
