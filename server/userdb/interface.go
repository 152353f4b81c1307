package userdb

import (
	"context"
	"errors"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrMainBucketNotFound = errors.New("users bucket not found")
)

// User is the persistent per-account record.
type User struct {
	ID        string `json:"id"`
	WinCount  int64  `json:"win_count"`
	LoseCount int64  `json:"lose_count"`
}

type UserDB interface {
	// FetchUser returns the record for id, or ErrUserNotFound.
	FetchUser(ctx context.Context, id string) (*User, error)
	// EnsureUser returns the record for id, creating a zeroed one on first
	// login.
	EnsureUser(ctx context.Context, id string) (*User, error)
	// UpdateMatchRecord increments the winner's win count and the loser's
	// lose count in one transaction.
	UpdateMatchRecord(ctx context.Context, winner, loser string) error
	Close() error
}
