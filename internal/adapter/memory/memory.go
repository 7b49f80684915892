// Package memory implements in-memory repositories and an in-memory cache
// store for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sprintsync/internal/domain"
)

// DB implements in-memory persistence. The repository ports share method
// names, so each is exposed as its own view over the shared state.
type DB struct {
	mu      sync.Mutex
	sprints map[string]*domain.Sprint
	tasks   map[string]*domain.Task
	users   map[string]*domain.User

	// seq breaks creation-time ties so listing windows stay stable.
	seq   int64
	seqOf map[string]int64
}

// New creates an empty in-memory database.
func New() *DB {
	return &DB{
		sprints: make(map[string]*domain.Sprint),
		tasks:   make(map[string]*domain.Task),
		users:   make(map[string]*domain.User),
		seqOf:   make(map[string]int64),
	}
}

// SprintRepo returns the sprint repository view.
func (db *DB) SprintRepo() *SprintRepo { return &SprintRepo{db: db} }

// TaskRepo returns the task repository view.
func (db *DB) TaskRepo() *TaskRepo { return &TaskRepo{db: db} }

// UserRepo returns the user repository view.
func (db *DB) UserRepo() *UserRepo { return &UserRepo{db: db} }

// Ensure interfaces are met.
var _ domain.SprintRepository = (*SprintRepo)(nil)
var _ domain.TaskRepository = (*TaskRepo)(nil)
var _ domain.UserRepository = (*UserRepo)(nil)

func (db *DB) assign(id string) {
	db.seq++
	db.seqOf[id] = db.seq
}

// --- SprintRepository ---

// SprintRepo implements sprint persistence.
type SprintRepo struct {
	db *DB
}

// Create persists a new sprint, assigning id and creation time.
func (r *SprintRepo) Create(ctx context.Context, s *domain.Sprint) (*domain.Sprint, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cp := *s
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	r.db.assign(cp.ID)
	r.db.sprints[cp.ID] = &cp
	out := cp
	return &out, nil
}

// Get retrieves a sprint by id.
func (r *SprintRepo) Get(ctx context.Context, id string) (*domain.Sprint, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	s, ok := r.db.sprints[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *s
	return &out, nil
}

// Update overwrites a sprint row, preserving its creation time.
func (r *SprintRepo) Update(ctx context.Context, s *domain.Sprint) (*domain.Sprint, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.sprints[s.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	cp.CreatedAt = cur.CreatedAt
	r.db.sprints[s.ID] = &cp
	out := cp
	return &out, nil
}

// Delete removes a sprint row.
func (r *SprintRepo) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.sprints[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.db.sprints, id)
	return nil
}

// ListAll returns all sprints ordered by creation descending.
func (r *SprintRepo) ListAll(ctx context.Context) ([]domain.Sprint, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	out := make([]domain.Sprint, 0, len(r.db.sprints))
	for _, s := range r.db.sprints {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.db.seqOf[out[i].ID] > r.db.seqOf[out[j].ID]
	})
	return out, nil
}

// --- TaskRepository ---

// TaskRepo implements task persistence.
type TaskRepo struct {
	db *DB
}

// Create persists a new task, assigning id and creation time.
func (r *TaskRepo) Create(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cp := *t
	cp.ID = uuid.NewString()
	cp.CreatedAt = time.Now().UTC()
	r.db.assign(cp.ID)
	r.db.tasks[cp.ID] = &cp
	out := cp
	return &out, nil
}

// Get retrieves a task by id.
func (r *TaskRepo) Get(ctx context.Context, id string) (*domain.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t, ok := r.db.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *t
	return &out, nil
}

// Update overwrites a task row, preserving its creation time.
func (r *TaskRepo) Update(ctx context.Context, t *domain.Task) (*domain.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cur, ok := r.db.tasks[t.ID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	cp.CreatedAt = cur.CreatedAt
	r.db.tasks[t.ID] = &cp
	out := cp
	return &out, nil
}

// Delete removes a task row.
func (r *TaskRepo) Delete(ctx context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if _, ok := r.db.tasks[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.db.tasks, id)
	return nil
}

// ListBySprint returns a creation-ordered window of a sprint's top-level
// tasks.
func (r *TaskRepo) ListBySprint(ctx context.Context, sprintID string, offset, limit int) ([]domain.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return window(r.list(func(t *domain.Task) bool {
		return t.SprintID == sprintID && t.ParentID == ""
	}), offset, limit), nil
}

// ListChildren returns a creation-ordered window of a task's direct children.
func (r *TaskRepo) ListChildren(ctx context.Context, parentID string, offset, limit int) ([]domain.Task, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return window(r.list(func(t *domain.Task) bool {
		return t.ParentID == parentID
	}), offset, limit), nil
}

// CountBySprint counts a sprint's top-level tasks.
func (r *TaskRepo) CountBySprint(ctx context.Context, sprintID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.list(func(t *domain.Task) bool {
		return t.SprintID == sprintID && t.ParentID == ""
	})), nil
}

// CountChildren counts a task's direct children.
func (r *TaskRepo) CountChildren(ctx context.Context, parentID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.list(func(t *domain.Task) bool {
		return t.ParentID == parentID
	})), nil
}

// CountAllInSprint counts every task in a sprint at any depth.
func (r *TaskRepo) CountAllInSprint(ctx context.Context, sprintID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return len(r.list(func(t *domain.Task) bool {
		return t.SprintID == sprintID
	})), nil
}

// ChildIDs returns the ids of a task's direct children.
func (r *TaskRepo) ChildIDs(ctx context.Context, parentID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return ids(r.list(func(t *domain.Task) bool {
		return t.ParentID == parentID
	})), nil
}

// IDsBySprint returns the ids of every task in a sprint at any depth.
func (r *TaskRepo) IDsBySprint(ctx context.Context, sprintID string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return ids(r.list(func(t *domain.Task) bool {
		return t.SprintID == sprintID
	})), nil
}

// list must be called with db.mu held.
func (r *TaskRepo) list(match func(*domain.Task) bool) []domain.Task {
	out := []domain.Task{}
	for _, t := range r.db.tasks {
		if match(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.db.seqOf[out[i].ID] < r.db.seqOf[out[j].ID]
	})
	return out
}

func window(tasks []domain.Task, offset, limit int) []domain.Task {
	if offset >= len(tasks) {
		return []domain.Task{}
	}
	end := min(offset+limit, len(tasks))
	return tasks[offset:end]
}

func ids(tasks []domain.Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}

// --- UserRepository ---

// UserRepo implements user persistence.
type UserRepo struct {
	db *DB
}

// GetByID retrieves a user by row id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	u, ok := r.db.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *u
	return &out, nil
}

// GetByExternalID retrieves a user by stable external identity.
func (r *UserRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, u := range r.db.users {
		if u.ExternalID == externalID {
			out := *u
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Upsert creates or refreshes a user keyed on external identity.
func (r *UserRepo) Upsert(ctx context.Context, externalID, name, passwordHash string) (*domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, u := range r.db.users {
		if u.ExternalID == externalID {
			if name != "" {
				u.Name = name
			}
			if passwordHash != "" {
				u.PasswordHash = passwordHash
			}
			out := *u
			return &out, nil
		}
	}

	u := &domain.User{
		ID:           uuid.NewString(),
		ExternalID:   externalID,
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	r.db.assign(u.ID)
	r.db.users[u.ID] = u
	out := *u
	return &out, nil
}

// ListAll returns all users in creation order.
func (r *UserRepo) ListAll(ctx context.Context) ([]domain.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	out := make([]domain.User, 0, len(r.db.users))
	for _, u := range r.db.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		return r.db.seqOf[out[i].ID] < r.db.seqOf[out[j].ID]
	})
	return out, nil
}
