package domain

import (
	"context"
	"time"
)

// Status is the shared lifecycle state of sprints and tasks. Transitions are
// unconstrained: any status may move to any other.
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Sprint is a top-level container of tasks. HasChildren caches whether the
// sprint currently owns at least one task.
type Sprint struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	HasChildren bool      `json:"hasChildren"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SprintRepository defines the port for sprint persistence operations.
type SprintRepository interface {
	Create(ctx context.Context, s *Sprint) (*Sprint, error)
	Get(ctx context.Context, id string) (*Sprint, error)
	Update(ctx context.Context, s *Sprint) (*Sprint, error)
	Delete(ctx context.Context, id string) error
	// ListAll returns all sprints ordered by creation time descending.
	ListAll(ctx context.Context) ([]Sprint, error)
}
