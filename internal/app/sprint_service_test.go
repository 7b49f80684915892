package app_test

import (
	"context"
	"errors"
	"testing"

	"sprintsync/internal/adapter/memory"
	"sprintsync/internal/app"
	"sprintsync/internal/domain"
)

type sprintEnv struct {
	svc    *app.SprintService
	tasks  *app.TaskService
	repo   *memory.SprintRepo
	trepo  *memory.TaskRepo
	events *[]app.Event
}

func newSprintEnv(t *testing.T) *sprintEnv {
	t.Helper()
	db := memory.New()
	cache := memory.NewCache()
	log := discardLogger()
	bus := app.NewEventBus()
	events := &[]app.Event{}
	bus.Subscribe(func(e app.Event) { *events = append(*events, e) })
	inval := app.NewCacheInvalidator(cache, log)
	return &sprintEnv{
		svc:    app.NewSprintService(db.SprintRepo(), db.TaskRepo(), cache, inval, bus, log),
		tasks:  app.NewTaskService(db.TaskRepo(), db.SprintRepo(), db.UserRepo(), cache, inval, bus, log),
		repo:   db.SprintRepo(),
		trepo:  db.TaskRepo(),
		events: events,
	}
}

func TestCreateSprint(t *testing.T) {
	env := newSprintEnv(t)
	ctx := context.Background()

	sprint, err := env.svc.CreateSprint(ctx, "Sprint 1", "first iteration")
	if err != nil {
		t.Fatalf("CreateSprint: %v", err)
	}
	if sprint.Status != domain.StatusOpen {
		t.Errorf("new sprints start OPEN, got %s", sprint.Status)
	}
	if sprint.HasChildren {
		t.Error("new sprints have no tasks")
	}

	if _, err := env.svc.CreateSprint(ctx, "", ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for empty name, got %v", err)
	}

	last := (*env.events)[len(*env.events)-1]
	if last.Entity != "sprint" || last.Action != "created" {
		t.Errorf("expected sprint.created, got %s.%s", last.Entity, last.Action)
	}
}

func TestSprintSetStatusIdempotent(t *testing.T) {
	env := newSprintEnv(t)
	ctx := context.Background()
	sprint, _ := env.svc.CreateSprint(ctx, "S", "")
	before := len(*env.events)

	_, updated, err := env.svc.SetStatus(ctx, sprint.ID, domain.StatusOpen)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if updated {
		t.Error("same-status set must report updated=false")
	}
	if len(*env.events) != before {
		t.Error("same-status set must not publish an event")
	}

	got, updated, err := env.svc.SetStatus(ctx, sprint.ID, domain.StatusCompleted)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if !updated || got.Status != domain.StatusCompleted {
		t.Errorf("expected updated COMPLETED, got updated=%v status=%s", updated, got.Status)
	}

	if _, _, err := env.svc.SetStatus(ctx, sprint.ID, "CLOSED"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := env.svc.SetStatus(ctx, "nope", domain.StatusOpen); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSprintRename(t *testing.T) {
	env := newSprintEnv(t)
	ctx := context.Background()
	sprint, _ := env.svc.CreateSprint(ctx, "S", "")

	got, err := env.svc.SetName(ctx, sprint.ID, "Renamed")
	if err != nil {
		t.Fatalf("SetName: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("expected Renamed, got %s", got.Name)
	}
	if _, err := env.svc.SetName(ctx, sprint.ID, ""); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}

	got, err = env.svc.SetDescription(ctx, sprint.ID, "new text")
	if err != nil {
		t.Fatalf("SetDescription: %v", err)
	}
	if got.Description != "new text" {
		t.Errorf("expected new text, got %s", got.Description)
	}
}

func TestDeleteSprintCascades(t *testing.T) {
	env := newSprintEnv(t)
	ctx := context.Background()
	sprint, _ := env.svc.CreateSprint(ctx, "S", "")
	other, _ := env.svc.CreateSprint(ctx, "Other", "")

	root, err := env.tasks.CreateTask(ctx, app.CreateTaskInput{Title: "root", Hours: 1, SprintID: sprint.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	child, err := env.tasks.CreateTask(ctx, app.CreateTaskInput{Title: "child", Hours: 1, SprintID: sprint.ID, ParentID: root.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	kept, err := env.tasks.CreateTask(ctx, app.CreateTaskInput{Title: "kept", Hours: 1, SprintID: other.ID})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	deleted, err := env.svc.DeleteSprint(ctx, sprint.ID)
	if err != nil {
		t.Fatalf("DeleteSprint: %v", err)
	}
	if deleted.Name != "S" {
		t.Errorf("expected deleted sprint S, got %s", deleted.Name)
	}

	if _, err := env.repo.Get(ctx, sprint.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("sprint row must be gone, got %v", err)
	}
	for _, id := range []string{root.ID, child.ID} {
		if _, err := env.trepo.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("task %s must be gone, got %v", id, err)
		}
	}
	if _, err := env.trepo.Get(ctx, kept.ID); err != nil {
		t.Errorf("other sprint's task must survive: %v", err)
	}

	last := (*env.events)[len(*env.events)-1]
	if last.Entity != "sprint" || last.Action != "deleted" {
		t.Errorf("expected sprint.deleted, got %s.%s", last.Entity, last.Action)
	}
	if last.Data["name"] != "S" {
		t.Errorf("deleted event carries the name, got %v", last.Data["name"])
	}
}

func TestListSprintsCacheFreshness(t *testing.T) {
	env := newSprintEnv(t)
	ctx := context.Background()

	first, _ := env.svc.CreateSprint(ctx, "A", "")
	got, err := env.svc.ListSprints(ctx)
	if err != nil {
		t.Fatalf("ListSprints: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sprint, got %d", len(got))
	}

	// Creating another sprint invalidates the cached listing.
	second, _ := env.svc.CreateSprint(ctx, "B", "")
	got, err = env.svc.ListSprints(ctx)
	if err != nil {
		t.Fatalf("ListSprints: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sprints after mutation, got %d", len(got))
	}
	// Newest first.
	if got[0].ID != second.ID || got[1].ID != first.ID {
		t.Error("expected newest-first ordering")
	}
}
