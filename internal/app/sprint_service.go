package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"sprintsync/internal/domain"
)

// SprintService validates and applies sprint mutations. Deleting a sprint
// cascades through every task it owns before the sprint row itself goes.
type SprintService struct {
	sprints domain.SprintRepository
	tasks   domain.TaskRepository
	cache   domain.CacheStore
	inval   *CacheInvalidator
	bus     *EventBus
	log     *slog.Logger
}

// NewSprintService wires a SprintService.
func NewSprintService(sprints domain.SprintRepository, tasks domain.TaskRepository,
	cache domain.CacheStore, inval *CacheInvalidator, bus *EventBus, log *slog.Logger) *SprintService {
	return &SprintService{sprints: sprints, tasks: tasks, cache: cache, inval: inval, bus: bus, log: log}
}

// CreateSprint persists a new sprint in OPEN status.
func (s *SprintService) CreateSprint(ctx context.Context, name, description string) (*domain.Sprint, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrInvalidArgument)
	}
	created, err := s.sprints.Create(ctx, &domain.Sprint{
		Name:        name,
		Description: description,
		Status:      domain.StatusOpen,
	})
	if err != nil {
		return nil, err
	}
	s.inval.SprintListing(ctx)
	s.bus.Publish(Event{Entity: "sprint", Action: "created", Data: map[string]any{
		"sprintId": created.ID,
	}})
	return created, nil
}

// SetStatus persists a status change. Setting the current status is a no-op:
// no write, no event, updated=false.
func (s *SprintService) SetStatus(ctx context.Context, id string, status domain.Status) (*domain.Sprint, bool, error) {
	if !status.Valid() {
		return nil, false, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, status)
	}
	sp, err := s.sprints.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if sp.Status == status {
		return sp, false, nil
	}
	sp.Status = status
	updated, err := s.sprints.Update(ctx, sp)
	if err != nil {
		return nil, false, err
	}
	s.inval.SprintListing(ctx)
	s.bus.Publish(Event{Entity: "sprint", Action: "status_updated", Data: map[string]any{
		"sprintId": updated.ID,
		"status":   string(updated.Status),
	}})
	return updated, true, nil
}

// SetDescription persists a description change.
func (s *SprintService) SetDescription(ctx context.Context, id, description string) (*domain.Sprint, error) {
	sp, err := s.sprints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sp.Description = description
	updated, err := s.sprints.Update(ctx, sp)
	if err != nil {
		return nil, err
	}
	s.inval.SprintListing(ctx)
	s.bus.Publish(Event{Entity: "sprint", Action: "description_updated", Data: map[string]any{
		"sprintId":    updated.ID,
		"description": updated.Description,
	}})
	return updated, nil
}

// SetName persists a name change.
func (s *SprintService) SetName(ctx context.Context, id, name string) (*domain.Sprint, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name cannot be empty", domain.ErrInvalidArgument)
	}
	sp, err := s.sprints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sp.Name = name
	updated, err := s.sprints.Update(ctx, sp)
	if err != nil {
		return nil, err
	}
	s.inval.SprintListing(ctx)
	s.bus.Publish(Event{Entity: "sprint", Action: "name_updated", Data: map[string]any{
		"sprintId": updated.ID,
		"name":     updated.Name,
	}})
	return updated, nil
}

// DeleteSprint removes the sprint and every task it owns. Task subtrees go
// children-first, same as a direct task deletion.
func (s *SprintService) DeleteSprint(ctx context.Context, id string) (*domain.Sprint, error) {
	sp, err := s.sprints.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	n, err := s.tasks.CountBySprint(ctx, id)
	if err != nil {
		return nil, err
	}
	var deleted []string
	if n > 0 {
		roots, err := s.tasks.ListBySprint(ctx, id, 0, n)
		if err != nil {
			return nil, err
		}
		for _, root := range roots {
			order, err := s.collectSubtree(ctx, root.ID)
			if err != nil {
				return nil, err
			}
			for i := len(order) - 1; i >= 0; i-- {
				if err := s.tasks.Delete(ctx, order[i]); err != nil {
					return nil, err
				}
			}
			deleted = append(deleted, order...)
		}
	}

	if err := s.sprints.Delete(ctx, id); err != nil {
		return nil, err
	}

	for _, taskID := range deleted {
		s.inval.ChildrenFamily(ctx, taskID)
	}
	s.inval.SprintFamily(ctx, id)
	s.inval.SprintListing(ctx)

	s.bus.Publish(Event{Entity: "sprint", Action: "deleted", Data: map[string]any{
		"sprintId": sp.ID,
		"name":     sp.Name,
	}})
	return sp, nil
}

// ListSprints returns all sprints ordered by creation descending, cache-first.
func (s *SprintService) ListSprints(ctx context.Context) ([]domain.Sprint, error) {
	if raw, ok, err := s.cache.Get(ctx, sprintListKey); err == nil && ok {
		var sprints []domain.Sprint
		if err := json.Unmarshal([]byte(raw), &sprints); err == nil {
			return sprints, nil
		}
		_ = s.cache.Delete(ctx, sprintListKey)
	} else if err != nil {
		s.log.Warn("cache read failed", "key", sprintListKey, "err", err)
	}

	sprints, err := s.sprints.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(sprints); err == nil {
		if err := s.cache.Set(ctx, sprintListKey, string(raw), sprintListTTL); err != nil {
			s.log.Warn("cache write failed", "key", sprintListKey, "err", err)
		}
	}
	return sprints, nil
}

func (s *SprintService) collectSubtree(ctx context.Context, id string) ([]string, error) {
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

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
