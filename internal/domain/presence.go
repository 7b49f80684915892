package domain

import "time"

// PresenceEntry records the live connections of a single user. It lives in
// the cache store with a refreshed TTL, never in durable storage.
type PresenceEntry struct {
	UserID          string    `json:"userId"`
	Name            string    `json:"name"`
	ConnectionIDs   []string  `json:"connectionIds"`
	ConnectedAt     time.Time `json:"connectedAt"`
	LastConnectedAt time.Time `json:"lastConnectedAt"`
}

// ValidationReport is the outcome of reconciling a user's recorded
// connections against the live transport layer.
type ValidationReport struct {
	UserID  string   `json:"userId"`
	Valid   []string `json:"valid"`
	Removed []string `json:"removed"`
}

// ConnectionLiveness reports whether a connection id is still open at the
// transport layer. The websocket hub satisfies it; fakes satisfy it in tests.
type ConnectionLiveness interface {
	IsOpen(connectionID string) bool
}
