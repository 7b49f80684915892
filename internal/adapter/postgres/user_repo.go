package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"sprintsync/internal/domain"
)

// UserRepo implements domain.UserRepository on PostgreSQL.
type UserRepo struct {
	db *DB
}

var _ domain.UserRepository = (*UserRepo)(nil)

const userColumns = "id, external_id, name, password_hash, created_at"

// GetByID retrieves a user by row id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getWhere(ctx, "id=$1", id)
}

// GetByExternalID retrieves a user by stable external identity.
func (r *UserRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	return r.getWhere(ctx, "external_id=$1", externalID)
}

// Upsert creates or refreshes a user keyed on external identity. Empty name
// or hash leaves the stored value alone.
func (r *UserRepo) Upsert(ctx context.Context, externalID, name, passwordHash string) (*domain.User, error) {
	id := uuid.NewString()
	_, err := r.db.sql.ExecContext(ctx,
		`INSERT INTO users(id, external_id, name, password_hash, created_at) VALUES($1, $2, $3, $4, $5)
		 ON CONFLICT (external_id) DO UPDATE SET
		   name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END,
		   password_hash = CASE WHEN EXCLUDED.password_hash <> '' THEN EXCLUDED.password_hash ELSE users.password_hash END;`,
		id, externalID, name, passwordHash, time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	return r.GetByExternalID(ctx, externalID)
}

// ListAll returns all users in creation order.
func (r *UserRepo) ListAll(ctx context.Context) ([]domain.User, error) {
	rows, err := r.db.sql.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC, id ASC;")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.ExternalID, &u.Name, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UserRepo) getWhere(ctx context.Context, where string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.db.sql.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE "+where+";", arg,
	).Scan(&u.ID, &u.ExternalID, &u.Name, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
