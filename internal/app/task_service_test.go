package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"sprintsync/internal/adapter/memory"
	"sprintsync/internal/app"
	"sprintsync/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingCache wraps a CacheStore and counts reads and writes so tests can
// assert that rejected requests never touch the cache.
type countingCache struct {
	domain.CacheStore
	gets int
	sets int
}

func (c *countingCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.gets++
	return c.CacheStore.Get(ctx, key)
}

func (c *countingCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.sets++
	return c.CacheStore.Set(ctx, key, value, ttl)
}

type taskEnv struct {
	svc     *app.TaskService
	sprints *memory.SprintRepo
	tasks   *memory.TaskRepo
	users   *memory.UserRepo
	cache   *countingCache
	events  *[]app.Event
}

func newTaskEnv(t *testing.T) *taskEnv {
	t.Helper()
	db := memory.New()
	cache := &countingCache{CacheStore: memory.NewCache()}
	log := discardLogger()
	bus := app.NewEventBus()
	events := &[]app.Event{}
	bus.Subscribe(func(e app.Event) { *events = append(*events, e) })
	inval := app.NewCacheInvalidator(cache, log)
	svc := app.NewTaskService(db.TaskRepo(), db.SprintRepo(), db.UserRepo(), cache, inval, bus, log)
	return &taskEnv{
		svc:     svc,
		sprints: db.SprintRepo(),
		tasks:   db.TaskRepo(),
		users:   db.UserRepo(),
		cache:   cache,
		events:  events,
	}
}

func (e *taskEnv) mustSprint(t *testing.T) *domain.Sprint {
	t.Helper()
	s, err := e.sprints.Create(context.Background(), &domain.Sprint{Name: "Sprint", Status: domain.StatusOpen})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	return s
}

func (e *taskEnv) mustTask(t *testing.T, sprintID, parentID string) *domain.Task {
	t.Helper()
	task, err := e.svc.CreateTask(context.Background(), app.CreateTaskInput{
		Title: "task", Hours: 1, SprintID: sprintID, ParentID: parentID,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (e *taskEnv) lastEvent(t *testing.T) app.Event {
	t.Helper()
	if len(*e.events) == 0 {
		t.Fatal("expected at least one event")
	}
	return (*e.events)[len(*e.events)-1]
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)

	cases := []struct {
		name string
		in   app.CreateTaskInput
		want error
	}{
		{"empty title", app.CreateTaskInput{Hours: 1, SprintID: sprint.ID}, domain.ErrInvalidArgument},
		{"zero hours", app.CreateTaskInput{Title: "t", SprintID: sprint.ID}, domain.ErrInvalidArgument},
		{"negative hours", app.CreateTaskInput{Title: "t", Hours: -1, SprintID: sprint.ID}, domain.ErrInvalidArgument},
		{"missing sprint", app.CreateTaskInput{Title: "t", Hours: 1, SprintID: "nope"}, domain.ErrInvalidReference},
		{"missing parent", app.CreateTaskInput{Title: "t", Hours: 1, SprintID: sprint.ID, ParentID: "nope"}, domain.ErrInvalidReference},
		{"missing assignee", app.CreateTaskInput{Title: "t", Hours: 1, SprintID: sprint.ID, AssignedTo: "nope"}, domain.ErrInvalidReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.CreateTask(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if len(*env.events) != 0 {
		t.Errorf("rejected creates must not publish events, got %d", len(*env.events))
	}
}

func TestCreateTaskCrossSprintParentRejected(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprintA := env.mustSprint(t)
	sprintB := env.mustSprint(t)
	parent := env.mustTask(t, sprintA.ID, "")

	_, err := env.svc.CreateTask(ctx, app.CreateTaskInput{
		Title: "child", Hours: 1, SprintID: sprintB.ID, ParentID: parent.ID,
	})
	if !errors.Is(err, domain.ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}
}

func TestCreateTaskFlipsFlags(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)

	parent := env.mustTask(t, sprint.ID, "")
	if parent.HasChildren {
		t.Error("fresh task must not report children")
	}

	gotSprint, _ := env.sprints.Get(ctx, sprint.ID)
	if !gotSprint.HasChildren {
		t.Error("sprint flag must flip on first task")
	}

	env.mustTask(t, sprint.ID, parent.ID)
	gotParent, _ := env.tasks.Get(ctx, parent.ID)
	if !gotParent.HasChildren {
		t.Error("parent flag must flip on first child")
	}

	ev := env.lastEvent(t)
	if ev.Entity != "task" || ev.Action != "created" {
		t.Errorf("expected task.created, got %s.%s", ev.Entity, ev.Action)
	}
}

func TestUpdateTaskReparent(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)
	oldParent := env.mustTask(t, sprint.ID, "")
	newParent := env.mustTask(t, sprint.ID, "")
	child := env.mustTask(t, sprint.ID, oldParent.ID)

	if _, err := env.svc.UpdateTask(ctx, child.ID, app.UpdateTaskInput{ParentID: &newParent.ID}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	// Old parent lost its only child, new parent gained one. Both flags are
	// recomputed from actual counts.
	got, _ := env.tasks.Get(ctx, oldParent.ID)
	if got.HasChildren {
		t.Error("old parent flag must clear after reparent")
	}
	got, _ = env.tasks.Get(ctx, newParent.ID)
	if !got.HasChildren {
		t.Error("new parent flag must set after reparent")
	}
}

func TestUpdateTaskSprintMoveCascades(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprintA := env.mustSprint(t)
	sprintB := env.mustSprint(t)
	root := env.mustTask(t, sprintA.ID, "")
	child := env.mustTask(t, sprintA.ID, root.ID)
	grandchild := env.mustTask(t, sprintA.ID, child.ID)

	if _, err := env.svc.UpdateTask(ctx, root.ID, app.UpdateTaskInput{SprintID: &sprintB.ID}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	// Every node of the subtree moved, so no parent reference crosses sprints.
	for _, id := range []string{root.ID, child.ID, grandchild.ID} {
		got, err := env.tasks.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if got.SprintID != sprintB.ID {
			t.Errorf("task %s must follow the root to the new sprint, still in %s", id, got.SprintID)
		}
	}
	gotChild, _ := env.tasks.Get(ctx, child.ID)
	if gotChild.ParentID != root.ID {
		t.Errorf("child must keep its parent across the move, got %q", gotChild.ParentID)
	}

	gotA, _ := env.sprints.Get(ctx, sprintA.ID)
	if gotA.HasChildren {
		t.Error("emptied sprint flag must clear after the move")
	}
	gotB, _ := env.sprints.Get(ctx, sprintB.ID)
	if !gotB.HasChildren {
		t.Error("destination sprint flag must set after the move")
	}
}

func TestUpdateTaskSprintMoveWithParentRejected(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprintA := env.mustSprint(t)
	sprintB := env.mustSprint(t)
	parent := env.mustTask(t, sprintA.ID, "")
	child := env.mustTask(t, sprintA.ID, parent.ID)

	// Moving the child alone would leave it pointing at a parent in another
	// sprint, the same link CreateTask refuses to build.
	_, err := env.svc.UpdateTask(ctx, child.ID, app.UpdateTaskInput{SprintID: &sprintB.ID})
	if !errors.Is(err, domain.ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference, got %v", err)
	}
	got, _ := env.tasks.Get(ctx, child.ID)
	if got.SprintID != sprintA.ID {
		t.Errorf("rejected move must leave the task in place, got sprint %s", got.SprintID)
	}

	// Clearing the parent in the same request makes the move legal.
	none := ""
	if _, err := env.svc.UpdateTask(ctx, child.ID, app.UpdateTaskInput{SprintID: &sprintB.ID, ParentID: &none}); err != nil {
		t.Fatalf("UpdateTask with cleared parent: %v", err)
	}
	got, _ = env.tasks.Get(ctx, child.ID)
	if got.SprintID != sprintB.ID || got.ParentID != "" {
		t.Errorf("expected detached task in sprint B, got sprint=%s parent=%q", got.SprintID, got.ParentID)
	}
}

func TestUpdateTaskSelfParentRejected(t *testing.T) {
	env := newTaskEnv(t)
	sprint := env.mustSprint(t)
	task := env.mustTask(t, sprint.ID, "")

	_, err := env.svc.UpdateTask(context.Background(), task.ID, app.UpdateTaskInput{ParentID: &task.ID})
	if !errors.Is(err, domain.ErrInvalidReference) {
		t.Errorf("expected ErrInvalidReference, got %v", err)
	}
}

func TestDeleteTaskCascade(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)

	root := env.mustTask(t, sprint.ID, "")
	child := env.mustTask(t, sprint.ID, root.ID)
	grandchild := env.mustTask(t, sprint.ID, child.ID)
	sibling := env.mustTask(t, sprint.ID, "")

	deleted, err := env.svc.DeleteTask(ctx, root.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if deleted.ID != root.ID {
		t.Errorf("expected deleted root, got %s", deleted.ID)
	}

	for _, id := range []string{root.ID, child.ID, grandchild.ID} {
		if _, err := env.tasks.Get(ctx, id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("task %s must be gone, got %v", id, err)
		}
	}
	if _, err := env.tasks.Get(ctx, sibling.ID); err != nil {
		t.Errorf("sibling must survive the cascade: %v", err)
	}

	// One task left in the sprint, so its flag stays set.
	gotSprint, _ := env.sprints.Get(ctx, sprint.ID)
	if !gotSprint.HasChildren {
		t.Error("sprint flag must stay set while the sibling remains")
	}

	ev := env.lastEvent(t)
	if ev.Action != "deleted" {
		t.Errorf("expected deleted event, got %s", ev.Action)
	}

	// Deleting the sibling empties the sprint and clears the flag.
	if _, err := env.svc.DeleteTask(ctx, sibling.ID); err != nil {
		t.Fatalf("DeleteTask sibling: %v", err)
	}
	gotSprint, _ = env.sprints.Get(ctx, sprint.ID)
	if gotSprint.HasChildren {
		t.Error("sprint flag must clear once empty")
	}
}

func TestDeleteMissingTask(t *testing.T) {
	env := newTaskEnv(t)
	if _, err := env.svc.DeleteTask(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetStatusIdempotent(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)
	task := env.mustTask(t, sprint.ID, "")
	before := len(*env.events)

	// A fresh task is OPEN; setting OPEN again changes nothing.
	got, updated, err := env.svc.SetStatus(ctx, task.ID, domain.StatusOpen)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if updated {
		t.Error("same-status set must report updated=false")
	}
	if got.Status != domain.StatusOpen {
		t.Errorf("expected OPEN, got %s", got.Status)
	}
	if len(*env.events) != before {
		t.Error("same-status set must not publish an event")
	}

	// A real transition writes and publishes.
	got, updated, err = env.svc.SetStatus(ctx, task.ID, domain.StatusInProgress)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if !updated || got.Status != domain.StatusInProgress {
		t.Errorf("expected updated IN_PROGRESS, got updated=%v status=%s", updated, got.Status)
	}
	if ev := env.lastEvent(t); ev.Action != "status_updated" {
		t.Errorf("expected status_updated, got %s", ev.Action)
	}

	// Unknown status rejected before any lookup.
	if _, _, err := env.svc.SetStatus(ctx, task.ID, "DONE"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSetAssigneeDecorates(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)
	task := env.mustTask(t, sprint.ID, "")
	user, err := env.users.Upsert(ctx, "ext-1", "Alice", "")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := env.svc.SetAssignee(ctx, task.ID, user.ID)
	if err != nil {
		t.Fatalf("SetAssignee: %v", err)
	}
	if got.AssigneeName != "Alice" {
		t.Errorf("expected assignee name resolved, got %q", got.AssigneeName)
	}

	// Clearing works with an empty id.
	got, err = env.svc.SetAssignee(ctx, task.ID, "")
	if err != nil {
		t.Fatalf("SetAssignee clear: %v", err)
	}
	if got.AssignedTo != "" || got.AssigneeName != "" {
		t.Errorf("expected cleared assignee, got %q/%q", got.AssignedTo, got.AssigneeName)
	}
}

func TestListTasksForward(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)
	var created []*domain.Task
	for i := 0; i < 5; i++ {
		created = append(created, env.mustTask(t, sprint.ID, ""))
	}

	page, err := env.svc.ListTasks(ctx, sprint.ID, 1, 2, true)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("expected total 5, got %d", page.Total)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(page.Items))
	}
	if page.Items[0].ID != created[1].ID || page.Items[1].ID != created[2].ID {
		t.Error("forward window must start at the requested index")
	}
	if page.StartIndex != 1 || page.EndIndex != 2 {
		t.Errorf("expected window [1,2], got [%d,%d]", page.StartIndex, page.EndIndex)
	}
	if !page.HasNext || !page.HasPrev {
		t.Errorf("expected hasNext and hasPrev, got %v/%v", page.HasNext, page.HasPrev)
	}
}

func TestListTasksBackward(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)
	var created []*domain.Task
	for i := 0; i < 5; i++ {
		created = append(created, env.mustTask(t, sprint.ID, ""))
	}

	// Backward from index 3 with limit 2 covers [2,3].
	page, err := env.svc.ListTasks(ctx, sprint.ID, 3, 2, false)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if page.StartIndex != 2 || page.EndIndex != 3 {
		t.Errorf("expected window [2,3], got [%d,%d]", page.StartIndex, page.EndIndex)
	}
	if len(page.Items) != 2 || page.Items[0].ID != created[2].ID {
		t.Error("backward window must end at the requested index")
	}

	// Backward near the start clamps to [0,1].
	page, err = env.svc.ListTasks(ctx, sprint.ID, 1, 5, false)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if page.StartIndex != 0 || page.EndIndex != 1 {
		t.Errorf("expected window [0,1], got [%d,%d]", page.StartIndex, page.EndIndex)
	}
	if page.HasPrev {
		t.Error("window starting at 0 has no previous page")
	}
}

func TestListTasksRoundTrip(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)
	for i := 0; i < 7; i++ {
		env.mustTask(t, sprint.ID, "")
	}

	// Walk forward from the start, then backward from the end. Both
	// traversals must visit the same rows in the same order.
	var forward []string
	for index := 0; ; {
		page, err := env.svc.ListTasks(ctx, sprint.ID, index, 3, true)
		if err != nil {
			t.Fatalf("forward ListTasks at %d: %v", index, err)
		}
		for _, item := range page.Items {
			forward = append(forward, item.ID)
		}
		if !page.HasNext {
			break
		}
		index = page.EndIndex + 1
	}

	var backward []string
	for index := 6; ; {
		page, err := env.svc.ListTasks(ctx, sprint.ID, index, 3, false)
		if err != nil {
			t.Fatalf("backward ListTasks at %d: %v", index, err)
		}
		ids := make([]string, 0, len(page.Items))
		for _, item := range page.Items {
			ids = append(ids, item.ID)
		}
		backward = append(ids, backward...)
		if !page.HasPrev {
			break
		}
		index = page.StartIndex - 1
	}

	if len(forward) != 7 || len(backward) != 7 {
		t.Fatalf("expected 7 rows both ways, got %d forward %d backward", len(forward), len(backward))
	}
	for i := range forward {
		if forward[i] != backward[i] {
			t.Fatalf("traversals diverge at %d: %s vs %s", i, forward[i], backward[i])
		}
	}
}

func TestListTasksEmptySprint(t *testing.T) {
	env := newTaskEnv(t)
	sprint := env.mustSprint(t)

	page, err := env.svc.ListTasks(context.Background(), sprint.ID, 0, 10, true)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if page.Total != 0 || len(page.Items) != 0 {
		t.Errorf("expected empty page, got total=%d items=%d", page.Total, len(page.Items))
	}
	if page.HasNext || page.HasPrev {
		t.Error("empty page has no neighbours")
	}
}

func TestListChildren(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)
	parent := env.mustTask(t, sprint.ID, "")
	for i := 0; i < 3; i++ {
		env.mustTask(t, sprint.ID, parent.ID)
	}
	// A top-level sibling must not leak into the child listing.
	env.mustTask(t, sprint.ID, "")

	page, err := env.svc.ListChildren(ctx, parent.ID, 0, 10, true)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 3 {
		t.Errorf("expected 3 children, got total=%d items=%d", page.Total, len(page.Items))
	}
}

func TestPageArgsRejectedBeforeCache(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)

	env.cache.gets, env.cache.sets = 0, 0
	cases := []struct {
		name         string
		index, limit int
	}{
		{"zero limit", 0, 0},
		{"limit too large", 0, 101},
		{"negative index", -1, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.svc.ListTasks(ctx, sprint.ID, tc.index, tc.limit, true); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("expected ErrInvalidArgument, got %v", err)
			}
			if _, err := env.svc.ListChildren(ctx, "whatever", tc.index, tc.limit, true); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Errorf("children: expected ErrInvalidArgument, got %v", err)
			}
		})
	}
	if env.cache.gets != 0 || env.cache.sets != 0 {
		t.Errorf("rejected page args must not touch the cache, got %d reads %d writes", env.cache.gets, env.cache.sets)
	}
}

func TestListTasksCacheInvalidation(t *testing.T) {
	env := newTaskEnv(t)
	ctx := context.Background()
	sprint := env.mustSprint(t)
	env.mustTask(t, sprint.ID, "")

	first, err := env.svc.ListTasks(ctx, sprint.ID, 0, 10, true)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if first.Total != 1 {
		t.Fatalf("expected total 1, got %d", first.Total)
	}

	// The page is cached now; a mutation must invalidate it so the next read
	// reflects the new row.
	env.mustTask(t, sprint.ID, "")
	second, err := env.svc.ListTasks(ctx, sprint.ID, 0, 10, true)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if second.Total != 2 || len(second.Items) != 2 {
		t.Errorf("expected fresh page after mutation, got total=%d items=%d", second.Total, len(second.Items))
	}
}
