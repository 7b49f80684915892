package domain

import (
	"context"
	"time"
)

// Task is a unit of work inside a sprint. ParentID, when set, references
// another task in the same sprint, forming a tree. AssignedTo, when set,
// references a user. HasChildren caches whether the task currently owns at
// least one child.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Hours        float64   `json:"hours"`
	Status       Status    `json:"status"`
	SprintID     string    `json:"sprintId"`
	ParentID     string    `json:"parentId,omitempty"`
	AssignedTo   string    `json:"assignedTo,omitempty"`
	AssigneeName string    `json:"assigneeName,omitempty"`
	HasChildren  bool      `json:"hasChildren"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TaskRepository defines the port for task persistence operations. Listing
// windows are ordered by creation time ascending, id as tie-breaker, so
// pagination is stable under concurrent inserts.
type TaskRepository interface {
	Create(ctx context.Context, t *Task) (*Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	Update(ctx context.Context, t *Task) (*Task, error)
	Delete(ctx context.Context, id string) error

	// ListBySprint returns top-level tasks (no parent) of a sprint.
	ListBySprint(ctx context.Context, sprintID string, offset, limit int) ([]Task, error)
	// ListChildren returns direct children of a task.
	ListChildren(ctx context.Context, parentID string, offset, limit int) ([]Task, error)

	// CountBySprint counts top-level tasks of a sprint.
	CountBySprint(ctx context.Context, sprintID string) (int, error)
	// CountChildren counts direct children of a task.
	CountChildren(ctx context.Context, parentID string) (int, error)
	// CountAllInSprint counts every task owned by a sprint, at any depth.
	CountAllInSprint(ctx context.Context, sprintID string) (int, error)

	// ChildIDs returns the ids of a task's direct children.
	ChildIDs(ctx context.Context, parentID string) ([]string, error)
	// IDsBySprint returns the ids of every task in a sprint, any depth.
	IDsBySprint(ctx context.Context, sprintID string) ([]string, error)
}
