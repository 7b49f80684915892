package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"sprintsync/internal/domain"
)

// TaskRepo implements domain.TaskRepository on PostgreSQL.
type TaskRepo struct {
	db *DB
}

var _ domain.TaskRepository = (*TaskRepo)(nil)

const taskColumns = "id, title, description, hours, status, sprint_id, parent_id, assigned_to, has_children, created_at"

// Create inserts a new task row.
func (r *TaskRepo) Create(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	cp := *t
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	_, err := r.db.sql.ExecContext(ctx,
		"INSERT INTO tasks(id, title, description, hours, status, sprint_id, parent_id, assigned_to, has_children, created_at) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);",
		cp.ID, cp.Title, cp.Description, cp.Hours, string(cp.Status), cp.SprintID,
		nullable(cp.ParentID), nullable(cp.AssignedTo), cp.HasChildren, cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Get retrieves a task by id.
func (r *TaskRepo) Get(ctx context.Context, id string) (*domain.Task, error) {
	row := r.db.sql.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id=$1;", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Update overwrites a task row. Creation time is never touched.
func (r *TaskRepo) Update(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	res, err := r.db.sql.ExecContext(ctx,
		"UPDATE tasks SET title=$2, description=$3, hours=$4, status=$5, sprint_id=$6, parent_id=$7, assigned_to=$8, has_children=$9 WHERE id=$1;",
		t.ID, t.Title, t.Description, t.Hours, string(t.Status), t.SprintID,
		nullable(t.ParentID), nullable(t.AssignedTo), t.HasChildren,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return r.Get(ctx, t.ID)
}

// Delete removes a task row.
func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.sql.ExecContext(ctx, "DELETE FROM tasks WHERE id=$1;", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListBySprint returns a creation-ordered window of a sprint's top-level tasks.
func (r *TaskRepo) ListBySprint(ctx context.Context, sprintID string, offset, limit int) ([]domain.Task, error) {
	return r.listTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE sprint_id=$1 AND parent_id IS NULL ORDER BY created_at ASC, id ASC OFFSET $2 LIMIT $3;",
		sprintID, offset, limit)
}

// ListChildren returns a creation-ordered window of a task's direct children.
func (r *TaskRepo) ListChildren(ctx context.Context, parentID string, offset, limit int) ([]domain.Task, error) {
	return r.listTasks(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE parent_id=$1 ORDER BY created_at ASC, id ASC OFFSET $2 LIMIT $3;",
		parentID, offset, limit)
}

// CountBySprint counts a sprint's top-level tasks.
func (r *TaskRepo) CountBySprint(ctx context.Context, sprintID string) (int, error) {
	var n int
	err := r.db.sql.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM tasks WHERE sprint_id=$1 AND parent_id IS NULL;", sprintID).Scan(&n)
	return n, err
}

// CountChildren counts a task's direct children.
func (r *TaskRepo) CountChildren(ctx context.Context, parentID string) (int, error) {
	var n int
	err := r.db.sql.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM tasks WHERE parent_id=$1;", parentID).Scan(&n)
	return n, err
}

// CountAllInSprint counts every task in a sprint at any depth.
func (r *TaskRepo) CountAllInSprint(ctx context.Context, sprintID string) (int, error) {
	var n int
	err := r.db.sql.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM tasks WHERE sprint_id=$1;", sprintID).Scan(&n)
	return n, err
}

// ChildIDs returns the ids of a task's direct children.
func (r *TaskRepo) ChildIDs(ctx context.Context, parentID string) ([]string, error) {
	return r.listIDs(ctx, "SELECT id FROM tasks WHERE parent_id=$1 ORDER BY created_at ASC, id ASC;", parentID)
}

// IDsBySprint returns the ids of every task in a sprint at any depth.
func (r *TaskRepo) IDsBySprint(ctx context.Context, sprintID string) ([]string, error) {
	return r.listIDs(ctx, "SELECT id FROM tasks WHERE sprint_id=$1 ORDER BY created_at ASC, id ASC;", sprintID)
}

func (r *TaskRepo) listTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TaskRepo) listIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var parentID, assignedTo sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Hours, &t.Status, &t.SprintID,
		&parentID, &assignedTo, &t.HasChildren, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.ParentID = parentID.String
	t.AssignedTo = assignedTo.String
	return &t, nil
}

// nullable maps an empty id to SQL NULL so foreign keys stay clean.
func nullable(id string) any {
	if id == "" {
		return nil
	}
	return id
}
