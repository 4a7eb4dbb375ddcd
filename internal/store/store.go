package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User is a principal the relay verifies bearer credentials against.
// Guests are short-lived rows created per session; agents are automated
// identities whose presence changes are announced.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Role         string // "user", "guest" or "agent"
	SessionID    string // set for guests only
	CreatedAt    time.Time
}

// UserStore persists users and guest sessions.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error)
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// Store is the full persistence surface the relay needs.
type Store interface {
	UserStore
	Close() error
}
