// Package domain contains the core business entities and interfaces.
package domain

import (
	"context"
	"time"
)

// User represents an authenticated user in the system. Users are created on
// first successful authentication and never deleted by this service.
type User struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"externalId"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// OnlineUser is the public projection of a connected user.
type OnlineUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserRepository defines the port for user persistence operations.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByExternalID(ctx context.Context, externalID string) (*User, error)
	// Upsert creates the user keyed on ExternalID, or updates the display
	// name of an existing one. Returns the persisted row either way.
	Upsert(ctx context.Context, externalID, name, passwordHash string) (*User, error)
	ListAll(ctx context.Context) ([]User, error)
}
