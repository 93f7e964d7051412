package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique field (e.g. email) is already taken.
	ErrConflict = errors.New("conflict")
)

// User is one user document. Progress is kept as a JSON object keyed by
// "<module>-<topic>"; the storage layer does not interpret its values.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ProgressJSON string
}

type Credential struct {
	Email        string
	UserID       string
	PasswordHash string
	CreatedAt    time.Time
}
