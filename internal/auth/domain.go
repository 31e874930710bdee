package auth

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the staff account does not exist.
	ErrNotFound = errors.New("auth: staff not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken indicates a bearer token that failed verification.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Staff represents an authenticated staff account. Role is kept as stored and
// parsed on every principal resolution.
type Staff struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
