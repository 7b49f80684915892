package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"sprintsync/internal/domain"
)

// Pagination limits accepted from clients.
const (
	minPageLimit = 1
	maxPageLimit = 100
)

// TaskService validates and applies task mutations, keeps the hasChildren
// flags exact, invalidates the affected cache families, and publishes a
// domain event for every successful mutation.
type TaskService struct {
	tasks   domain.TaskRepository
	sprints domain.SprintRepository
	users   domain.UserRepository
	cache   domain.CacheStore
	inval   *CacheInvalidator
	bus     *EventBus
	log     *slog.Logger
}

// NewTaskService wires a TaskService.
func NewTaskService(tasks domain.TaskRepository, sprints domain.SprintRepository, users domain.UserRepository,
	cache domain.CacheStore, inval *CacheInvalidator, bus *EventBus, log *slog.Logger) *TaskService {
	return &TaskService{tasks: tasks, sprints: sprints, users: users, cache: cache, inval: inval, bus: bus, log: log}
}

// CreateTaskInput carries the fields of a task creation request. SprintID is
// required; ParentID and AssignedTo are optional references.
type CreateTaskInput struct {
	Title       string
	Description string
	Hours       float64
	SprintID    string
	ParentID    string
	AssignedTo  string
}

// UpdateTaskInput carries a partial task update. Nil means "leave as is";
// for the optional reference fields an empty string clears the reference.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Hours       *float64
	SprintID    *string
	ParentID    *string
	AssignedTo  *string
}

// CreateTask validates references, persists the task, flips the parent and
// sprint hasChildren flags, invalidates the affected cache families, and
// emits task.created.
func (s *TaskService) CreateTask(ctx context.Context, in CreateTaskInput) (*domain.Task, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidArgument)
	}
	if in.Hours <= 0 {
		return nil, fmt.Errorf("%w: hours must be positive", domain.ErrInvalidArgument)
	}

	sprint, err := s.sprints.Get(ctx, in.SprintID)
	if err != nil {
		return nil, refErr(err, "sprint", in.SprintID)
	}

	var parent *domain.Task
	if in.ParentID != "" {
		parent, err = s.tasks.Get(ctx, in.ParentID)
		if err != nil {
			return nil, refErr(err, "parent task", in.ParentID)
		}
		if parent.SprintID != in.SprintID {
			return nil, fmt.Errorf("%w: parent task %s belongs to another sprint", domain.ErrInvalidReference, in.ParentID)
		}
	}
	if in.AssignedTo != "" {
		if _, err := s.users.GetByID(ctx, in.AssignedTo); err != nil {
			return nil, refErr(err, "user", in.AssignedTo)
		}
	}

	created, err := s.tasks.Create(ctx, &domain.Task{
		Title:       in.Title,
		Description: in.Description,
		Hours:       in.Hours,
		Status:      domain.StatusOpen,
		SprintID:    in.SprintID,
		ParentID:    in.ParentID,
		AssignedTo:  in.AssignedTo,
	})
	if err != nil {
		return nil, err
	}

	if parent != nil && !parent.HasChildren {
		parent.HasChildren = true
		if _, err := s.tasks.Update(ctx, parent); err != nil {
			return nil, err
		}
	}
	if !sprint.HasChildren {
		sprint.HasChildren = true
		if _, err := s.sprints.Update(ctx, sprint); err != nil {
			return nil, err
		}
		s.inval.SprintListing(ctx)
	}

	if parent != nil {
		s.inval.ChildrenFamily(ctx, parent.ID)
	}
	s.inval.SprintFamily(ctx, in.SprintID)

	s.bus.Publish(Event{Entity: "task", Action: "created", Data: map[string]any{
		"taskId":   created.ID,
		"sprintId": created.SprintID,
	}})
	return s.decorate(ctx, created), nil
}

// UpdateTask applies a partial update. Changed parent or sprint references
// have both old and new hasChildren flags recomputed so neither side is left
// stale.
func (s *TaskService) UpdateTask(ctx context.Context, id string, in UpdateTaskInput) (*domain.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	oldSprintID, oldParentID := t.SprintID, t.ParentID

	if in.Title != nil {
		if *in.Title == "" {
			return nil, fmt.Errorf("%w: title cannot be empty", domain.ErrInvalidArgument)
		}
		t.Title = *in.Title
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.Hours != nil {
		if *in.Hours <= 0 {
			return nil, fmt.Errorf("%w: hours must be positive", domain.ErrInvalidArgument)
		}
		t.Hours = *in.Hours
	}
	if in.SprintID != nil {
		if *in.SprintID == "" {
			return nil, fmt.Errorf("%w: sprintId is required", domain.ErrInvalidArgument)
		}
		if _, err := s.sprints.Get(ctx, *in.SprintID); err != nil {
			return nil, refErr(err, "sprint", *in.SprintID)
		}
		t.SprintID = *in.SprintID
	}
	if in.ParentID != nil {
		// Empty string clears the reference.
		if *in.ParentID == "" {
			t.ParentID = ""
		} else {
			if *in.ParentID == id {
				return nil, fmt.Errorf("%w: task cannot be its own parent", domain.ErrInvalidReference)
			}
			parent, err := s.tasks.Get(ctx, *in.ParentID)
			if err != nil {
				return nil, refErr(err, "parent task", *in.ParentID)
			}
			if parent.SprintID != t.SprintID {
				return nil, fmt.Errorf("%w: parent task %s belongs to another sprint", domain.ErrInvalidReference, parent.ID)
			}
			t.ParentID = *in.ParentID
		}
	}
	if in.AssignedTo != nil {
		if *in.AssignedTo == "" {
			t.AssignedTo = ""
		} else {
			if _, err := s.users.GetByID(ctx, *in.AssignedTo); err != nil {
				return nil, refErr(err, "user", *in.AssignedTo)
			}
			t.AssignedTo = *in.AssignedTo
		}
	}

	// A sprint move that keeps the current parent would leave the task
	// pointing across sprints; the caller must reparent in the same request.
	if t.SprintID != oldSprintID && in.ParentID == nil && t.ParentID != "" {
		return nil, fmt.Errorf("%w: parent task %s belongs to another sprint", domain.ErrInvalidReference, t.ParentID)
	}

	updated, err := s.tasks.Update(ctx, t)
	if err != nil {
		return nil, err
	}

	if updated.ParentID != oldParentID {
		if oldParentID != "" {
			if err := s.refreshParentFlag(ctx, oldParentID); err != nil {
				return nil, err
			}
			s.inval.ChildrenFamily(ctx, oldParentID)
		}
		if updated.ParentID != "" {
			if err := s.refreshParentFlag(ctx, updated.ParentID); err != nil {
				return nil, err
			}
			s.inval.ChildrenFamily(ctx, updated.ParentID)
		}
	}
	if updated.SprintID != oldSprintID {
		// The subtree follows its root between sprints, keeping every
		// parent reference inside one sprint at every depth.
		subtree, err := s.collectSubtree(ctx, updated.ID)
		if err != nil {
			return nil, err
		}
		for _, descID := range subtree[1:] {
			desc, err := s.tasks.Get(ctx, descID)
			if err != nil {
				return nil, err
			}
			desc.SprintID = updated.SprintID
			if _, err := s.tasks.Update(ctx, desc); err != nil {
				return nil, err
			}
		}
		for _, nodeID := range subtree {
			s.inval.ChildrenFamily(ctx, nodeID)
		}
		if err := s.refreshSprintFlag(ctx, oldSprintID); err != nil {
			return nil, err
		}
		if err := s.refreshSprintFlag(ctx, updated.SprintID); err != nil {
			return nil, err
		}
		s.inval.SprintFamily(ctx, oldSprintID)
	}
	s.inval.SprintFamily(ctx, updated.SprintID)

	s.bus.Publish(Event{Entity: "task", Action: "updated", Data: map[string]any{
		"taskId":   updated.ID,
		"sprintId": updated.SprintID,
	}})
	return s.decorate(ctx, updated), nil
}

// DeleteTask removes the task and its entire subtree, children before the
// parent that owns them, the root last. Traversal is iterative so
// pathologically deep trees cannot exhaust the stack.
func (s *TaskService) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	order, err := s.collectSubtree(ctx, id)
	if err != nil {
		return nil, err
	}
	// Reverse breadth-first order deletes every child before its parent.
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.tasks.Delete(ctx, order[i]); err != nil {
			return nil, err
		}
	}

	if t.ParentID != "" {
		if err := s.refreshParentFlag(ctx, t.ParentID); err != nil {
			return nil, err
		}
		s.inval.ChildrenFamily(ctx, t.ParentID)
	}
	if err := s.refreshSprintFlag(ctx, t.SprintID); err != nil {
		return nil, err
	}
	s.inval.SprintFamily(ctx, t.SprintID)
	if len(order) > 1 {
		s.inval.ChildrenFamily(ctx, id)
	}

	s.bus.Publish(Event{Entity: "task", Action: "deleted", Data: map[string]any{
		"taskId":   t.ID,
		"sprintId": t.SprintID,
	}})
	return t, nil
}

// SetStatus persists a status change. Setting the current status is a no-op:
// no write, no event, updated=false.
func (s *TaskService) SetStatus(ctx context.Context, id string, status domain.Status) (*domain.Task, bool, error) {
	if !status.Valid() {
		return nil, false, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, status)
	}
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if t.Status == status {
		return s.decorate(ctx, t), false, nil
	}
	t.Status = status
	updated, err := s.tasks.Update(ctx, t)
	if err != nil {
		return nil, false, err
	}
	s.inval.SprintFamily(ctx, updated.SprintID)
	s.bus.Publish(Event{Entity: "task", Action: "status_updated", Data: map[string]any{
		"taskId":   updated.ID,
		"sprintId": updated.SprintID,
		"status":   string(updated.Status),
	}})
	return s.decorate(ctx, updated), true, nil
}

// SetDescription persists a description change.
func (s *TaskService) SetDescription(ctx context.Context, id, description string) (*domain.Task, bool, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	t.Description = description
	updated, err := s.tasks.Update(ctx, t)
	if err != nil {
		return nil, false, err
	}
	s.inval.SprintFamily(ctx, updated.SprintID)
	s.bus.Publish(Event{Entity: "task", Action: "description_updated", Data: map[string]any{
		"taskId":      updated.ID,
		"sprintId":    updated.SprintID,
		"description": updated.Description,
	}})
	return s.decorate(ctx, updated), true, nil
}

// SetTitle persists a title change.
func (s *TaskService) SetTitle(ctx context.Context, id, title string) (*domain.Task, bool, error) {
	if title == "" {
		return nil, false, fmt.Errorf("%w: title cannot be empty", domain.ErrInvalidArgument)
	}
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	t.Title = title
	updated, err := s.tasks.Update(ctx, t)
	if err != nil {
		return nil, false, err
	}
	s.inval.SprintFamily(ctx, updated.SprintID)
	s.bus.Publish(Event{Entity: "task", Action: "name_updated", Data: map[string]any{
		"taskId":   updated.ID,
		"sprintId": updated.SprintID,
		"name":     updated.Title,
	}})
	return s.decorate(ctx, updated), true, nil
}

// SetAssignee changes or clears the assignee. An empty assigneeID clears it.
func (s *TaskService) SetAssignee(ctx context.Context, id, assigneeID string) (*domain.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if assigneeID != "" {
		if _, err := s.users.GetByID(ctx, assigneeID); err != nil {
			return nil, refErr(err, "user", assigneeID)
		}
	}
	t.AssignedTo = assigneeID
	updated, err := s.tasks.Update(ctx, t)
	if err != nil {
		return nil, err
	}
	s.inval.SprintFamily(ctx, updated.SprintID)
	s.bus.Publish(Event{Entity: "task", Action: "assignee_updated", Data: map[string]any{
		"taskId":     updated.ID,
		"sprintId":   updated.SprintID,
		"assigneeId": updated.AssignedTo,
	}})
	return s.decorate(ctx, updated), nil
}

// ListTasks returns a page of a sprint's top-level tasks, cache-first.
func (s *TaskService) ListTasks(ctx context.Context, sprintID string, index, limit int, forward bool) (*domain.Page, error) {
	if err := validatePageArgs(index, limit); err != nil {
		return nil, err
	}
	return s.page(ctx, pageQuery{
		key:      taskPageKey(sprintID, index, limit, forward),
		countKey: taskCountKey(sprintID),
		count:    func() (int, error) { return s.tasks.CountBySprint(ctx, sprintID) },
		fetch:    func(offset, n int) ([]domain.Task, error) { return s.tasks.ListBySprint(ctx, sprintID, offset, n) },
		index:    index,
		limit:    limit,
		forward:  forward,
	})
}

// ListChildren returns a page of a task's direct children, cache-first.
func (s *TaskService) ListChildren(ctx context.Context, taskID string, index, limit int, forward bool) (*domain.Page, error) {
	if err := validatePageArgs(index, limit); err != nil {
		return nil, err
	}
	return s.page(ctx, pageQuery{
		key:      childPageKey(taskID, index, limit, forward),
		countKey: childCountKey(taskID),
		count:    func() (int, error) { return s.tasks.CountChildren(ctx, taskID) },
		fetch:    func(offset, n int) ([]domain.Task, error) { return s.tasks.ListChildren(ctx, taskID, offset, n) },
		index:    index,
		limit:    limit,
		forward:  forward,
	})
}

type pageQuery struct {
	key      string
	countKey string
	count    func() (int, error)
	fetch    func(offset, n int) ([]domain.Task, error)
	index    int
	limit    int
	forward  bool
}

func validatePageArgs(index, limit int) error {
	if limit < minPageLimit || limit > maxPageLimit {
		return fmt.Errorf("%w: limit must be in [%d,%d]", domain.ErrInvalidArgument, minPageLimit, maxPageLimit)
	}
	if index < 0 {
		return fmt.Errorf("%w: index must not be negative", domain.ErrInvalidArgument)
	}
	return nil
}

func (s *TaskService) page(ctx context.Context, q pageQuery) (*domain.Page, error) {
	if raw, ok, err := s.cache.Get(ctx, q.key); err == nil && ok {
		var page domain.Page
		if err := json.Unmarshal([]byte(raw), &page); err == nil {
			return &page, nil
		}
		_ = s.cache.Delete(ctx, q.key)
	} else if err != nil {
		s.log.Warn("cache read failed", "key", q.key, "err", err)
	}

	total, err := s.total(ctx, q)
	if err != nil {
		return nil, err
	}

	// Direction only changes how the inclusive window is derived from the
	// caller's index; the underlying sort stays creation-ascending.
	var start, end int
	if q.forward {
		start = q.index
		end = min(q.index+q.limit-1, total-1)
	} else {
		end = min(q.index, total-1)
		start = max(0, end-q.limit+1)
	}

	page := &domain.Page{
		Items:        []domain.Task{},
		Total:        total,
		CurrentIndex: q.index,
		StartIndex:   start,
		EndIndex:     end,
	}
	if total > 0 && start <= end {
		items, err := q.fetch(start, end-start+1)
		if err != nil {
			return nil, err
		}
		for i := range items {
			s.decorate(ctx, &items[i])
		}
		page.Items = items
		page.HasNext = end < total-1
		page.HasPrev = start > 0
	}

	if raw, err := json.Marshal(page); err == nil {
		if err := s.cache.Set(ctx, q.key, string(raw), pageTTL); err != nil {
			s.log.Warn("cache write failed", "key", q.key, "err", err)
		}
	}
	return page, nil
}

func (s *TaskService) total(ctx context.Context, q pageQuery) (int, error) {
	if raw, ok, err := s.cache.Get(ctx, q.countKey); err == nil && ok {
		if n, err := strconv.Atoi(raw); err == nil {
			return n, nil
		}
	}
	n, err := q.count()
	if err != nil {
		return 0, err
	}
	if err := s.cache.Set(ctx, q.countKey, strconv.Itoa(n), countTTL); err != nil {
		s.log.Warn("cache write failed", "key", q.countKey, "err", err)
	}
	return n, nil
}

// collectSubtree returns id and all its descendants in breadth-first order.
func (s *TaskService) collectSubtree(ctx context.Context, id string) ([]string, error) {
	order := []string{id}
	queue := []string{id}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := s.tasks.ChildIDs(ctx, next)
		if err != nil {
			return nil, err
		}
		order = append(order, children...)
		queue = append(queue, children...)
	}
	return order, nil
}

// refreshParentFlag recomputes hasChildren for a task from the actual child
// count. The flag is exact after every mutation, never left stale.
func (s *TaskService) refreshParentFlag(ctx context.Context, parentID string) error {
	parent, err := s.tasks.Get(ctx, parentID)
	if err != nil {
		return err
	}
	n, err := s.tasks.CountChildren(ctx, parentID)
	if err != nil {
		return err
	}
	if has := n > 0; has != parent.HasChildren {
		parent.HasChildren = has
		if _, err := s.tasks.Update(ctx, parent); err != nil {
			return err
		}
	}
	return nil
}

// refreshSprintFlag recomputes hasChildren for a sprint from the count of
// tasks it owns at any depth.
func (s *TaskService) refreshSprintFlag(ctx context.Context, sprintID string) error {
	sprint, err := s.sprints.Get(ctx, sprintID)
	if err != nil {
		return err
	}
	n, err := s.tasks.CountAllInSprint(ctx, sprintID)
	if err != nil {
		return err
	}
	if has := n > 0; has != sprint.HasChildren {
		sprint.HasChildren = has
		if _, err := s.sprints.Update(ctx, sprint); err != nil {
			return err
		}
		s.inval.SprintListing(ctx)
	}
	return nil
}

// decorate resolves the assignee's display name onto the row.
func (s *TaskService) decorate(ctx context.Context, t *domain.Task) *domain.Task {
	if t.AssignedTo == "" {
		t.AssigneeName = ""
		return t
	}
	u, err := s.users.GetByID(ctx, t.AssignedTo)
	if err != nil {
		return t
	}
	t.AssigneeName = u.Name
	return t
}

// refErr converts a lookup failure on a referenced id into the error the
// caller should see: a missing row is an invalid reference, anything else
// passes through.
func refErr(err error, kind, id string) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return fmt.Errorf("%w: %s %s does not exist", domain.ErrInvalidReference, kind, id)
	}
	return err
}
