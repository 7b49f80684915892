package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"sprintsync/internal/domain"
)

func TestSprintRepository(t *testing.T) {
	db := New()
	repo := db.SprintRepo()
	ctx := context.Background()

	s, err := repo.Create(ctx, &domain.Sprint{Name: "Sprint 1", Status: domain.StatusOpen})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.ID == "" {
		t.Error("expected non-empty ID")
	}
	if s.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := repo.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Sprint 1" {
		t.Errorf("expected Sprint 1, got %s", got.Name)
	}

	got.Status = domain.StatusCompleted
	updated, err := repo.Update(ctx, got)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", updated.Status)
	}
	if !updated.CreatedAt.Equal(s.CreatedAt) {
		t.Error("Update must preserve CreatedAt")
	}

	// Newest first.
	s2, _ := repo.Create(ctx, &domain.Sprint{Name: "Sprint 2", Status: domain.StatusOpen})
	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 sprints, got %d", len(all))
	}
	if all[0].ID != s2.ID {
		t.Error("expected newest sprint first")
	}

	if err := repo.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, s.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.Delete(ctx, s.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestTaskRepositoryListing(t *testing.T) {
	db := New()
	repo := db.TaskRepo()
	ctx := context.Background()

	sprintID := "sprint-1"
	var root *domain.Task
	for i := 0; i < 3; i++ {
		var err error
		root, err = repo.Create(ctx, &domain.Task{Title: "root", SprintID: sprintID, Status: domain.StatusOpen})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := repo.Create(ctx, &domain.Task{Title: "child", SprintID: sprintID, ParentID: root.ID, Status: domain.StatusOpen}); err != nil {
			t.Fatalf("Create child: %v", err)
		}
	}

	// Top-level listing excludes children.
	tops, err := repo.ListBySprint(ctx, sprintID, 0, 10)
	if err != nil {
		t.Fatalf("ListBySprint: %v", err)
	}
	if len(tops) != 3 {
		t.Errorf("expected 3 top-level tasks, got %d", len(tops))
	}

	// Window arithmetic.
	tops, _ = repo.ListBySprint(ctx, sprintID, 1, 1)
	if len(tops) != 1 {
		t.Fatalf("expected 1 task in window, got %d", len(tops))
	}
	tops, _ = repo.ListBySprint(ctx, sprintID, 5, 10)
	if len(tops) != 0 {
		t.Errorf("expected empty window past the end, got %d", len(tops))
	}

	children, err := repo.ListChildren(ctx, root.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 {
		t.Errorf("expected 2 children, got %d", len(children))
	}

	n, _ := repo.CountBySprint(ctx, sprintID)
	if n != 3 {
		t.Errorf("CountBySprint: expected 3, got %d", n)
	}
	n, _ = repo.CountChildren(ctx, root.ID)
	if n != 2 {
		t.Errorf("CountChildren: expected 2, got %d", n)
	}
	n, _ = repo.CountAllInSprint(ctx, sprintID)
	if n != 5 {
		t.Errorf("CountAllInSprint: expected 5, got %d", n)
	}

	childIDs, _ := repo.ChildIDs(ctx, root.ID)
	if len(childIDs) != 2 {
		t.Errorf("ChildIDs: expected 2, got %d", len(childIDs))
	}
	all, _ := repo.IDsBySprint(ctx, sprintID)
	if len(all) != 5 {
		t.Errorf("IDsBySprint: expected 5, got %d", len(all))
	}
}

func TestUserRepositoryUpsert(t *testing.T) {
	db := New()
	repo := db.UserRepo()
	ctx := context.Background()

	u, err := repo.Upsert(ctx, "ext-1", "Alice", "hash1")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if u.ID == "" {
		t.Error("expected non-empty ID")
	}

	// Second upsert with the same external id updates in place.
	u2, err := repo.Upsert(ctx, "ext-1", "Alice B", "")
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if u2.ID != u.ID {
		t.Error("expected same user row")
	}
	if u2.Name != "Alice B" {
		t.Errorf("expected name updated, got %s", u2.Name)
	}
	if u2.PasswordHash != "hash1" {
		t.Error("empty hash must not clear the stored hash")
	}

	got, err := repo.GetByExternalID(ctx, "ext-1")
	if err != nil {
		t.Fatalf("GetByExternalID: %v", err)
	}
	if got.ID != u.ID {
		t.Error("failed to retrieve user by external id")
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	users, _ := repo.ListAll(ctx)
	if len(users) != 1 {
		t.Errorf("expected 1 user, got %d", len(users))
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, _ := c.Get(ctx, "k")
	if !ok || v != "v" {
		t.Fatalf("expected hit, got ok=%v v=%q", ok, v)
	}

	time.Sleep(20 * time.Millisecond)
	_, ok, _ = c.Get(ctx, "k")
	if ok {
		t.Error("expected miss after expiry")
	}
}

func TestCachePrefixAndSets(t *testing.T) {
	c := NewCache()
	ctx := context.Background()

	_ = c.Set(ctx, "cache:tasks:s1:page:0:10:true", "a", 0)
	_ = c.Set(ctx, "cache:tasks:s1:count", "3", 0)
	_ = c.Set(ctx, "cache:tasks:s2:count", "9", 0)

	if err := c.DeletePrefix(ctx, "cache:tasks:s1:"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "cache:tasks:s1:count"); ok {
		t.Error("expected s1 keys removed")
	}
	if _, ok, _ := c.Get(ctx, "cache:tasks:s2:count"); !ok {
		t.Error("expected s2 keys untouched")
	}

	_ = c.SetAdd(ctx, "presence:online", "u1", "u2")
	members, _ := c.SetMembers(ctx, "presence:online")
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	_ = c.SetRemove(ctx, "presence:online", "u1")
	members, _ = c.SetMembers(ctx, "presence:online")
	if len(members) != 1 || members[0] != "u2" {
		t.Errorf("expected [u2], got %v", members)
	}
}
