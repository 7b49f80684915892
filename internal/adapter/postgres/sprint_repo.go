package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"sprintsync/internal/domain"
)

// SprintRepo implements domain.SprintRepository on PostgreSQL.
type SprintRepo struct {
	db *DB
}

var _ domain.SprintRepository = (*SprintRepo)(nil)

// Create inserts a new sprint row.
func (r *SprintRepo) Create(ctx context.Context, s *domain.Sprint) (*domain.Sprint, error) {
	cp := *s
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	_, err := r.db.sql.ExecContext(ctx,
		"INSERT INTO sprints(id, name, description, status, has_children, created_at) VALUES($1, $2, $3, $4, $5, $6);",
		cp.ID, cp.Name, cp.Description, string(cp.Status), cp.HasChildren, cp.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Get retrieves a sprint by id.
func (r *SprintRepo) Get(ctx context.Context, id string) (*domain.Sprint, error) {
	var s domain.Sprint
	err := r.db.sql.QueryRowContext(ctx,
		"SELECT id, name, description, status, has_children, created_at FROM sprints WHERE id=$1;", id,
	).Scan(&s.ID, &s.Name, &s.Description, &s.Status, &s.HasChildren, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Update overwrites a sprint row. Creation time is never touched.
func (r *SprintRepo) Update(ctx context.Context, s *domain.Sprint) (*domain.Sprint, error) {
	res, err := r.db.sql.ExecContext(ctx,
		"UPDATE sprints SET name=$2, description=$3, status=$4, has_children=$5 WHERE id=$1;",
		s.ID, s.Name, s.Description, string(s.Status), s.HasChildren,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}
	return r.Get(ctx, s.ID)
}

// Delete removes a sprint row.
func (r *SprintRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.sql.ExecContext(ctx, "DELETE FROM sprints WHERE id=$1;", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListAll returns all sprints, newest first.
func (r *SprintRepo) ListAll(ctx context.Context) ([]domain.Sprint, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		"SELECT id, name, description, status, has_children, created_at FROM sprints ORDER BY created_at DESC;")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.Sprint{}
	for rows.Next() {
		var s domain.Sprint
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Status, &s.HasChildren, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
