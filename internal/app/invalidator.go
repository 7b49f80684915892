package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sprintsync/internal/domain"
)

// Cache TTLs. Pages expire fast; counts live a little longer since they are
// cheaper to serve stale.
const (
	pageTTL       = 5 * time.Minute
	countTTL      = 10 * time.Minute
	sprintListTTL = 5 * time.Minute
)

const sprintListKey = "cache:sprints:all"

func taskPagePrefix(sprintID string) string {
	return "cache:tasks:" + sprintID + ":"
}

func taskPageKey(sprintID string, start, limit int, forward bool) string {
	return fmt.Sprintf("%spage:%d:%d:%t", taskPagePrefix(sprintID), start, limit, forward)
}

func taskCountKey(sprintID string) string {
	return taskPagePrefix(sprintID) + "count"
}

func childPagePrefix(taskID string) string {
	return "cache:children:" + taskID + ":"
}

func childPageKey(taskID string, start, limit int, forward bool) string {
	return fmt.Sprintf("%spage:%d:%d:%t", childPagePrefix(taskID), start, limit, forward)
}

func childCountKey(taskID string) string {
	return childPagePrefix(taskID) + "count"
}

// CacheInvalidator owns the cache key families for paginated listings and
// drops the right family after a mutation. All operations are best-effort:
// a failed invalidation degrades to serving stale data for one TTL window,
// it never fails the triggering mutation.
type CacheInvalidator struct {
	cache domain.CacheStore
	log   *slog.Logger
}

// NewCacheInvalidator creates an invalidator over the given store.
func NewCacheInvalidator(cache domain.CacheStore, log *slog.Logger) *CacheInvalidator {
	return &CacheInvalidator{cache: cache, log: log}
}

// SprintFamily drops every paginated task listing and the count for a sprint.
func (ci *CacheInvalidator) SprintFamily(ctx context.Context, sprintID string) {
	if err := ci.cache.DeletePrefix(ctx, taskPagePrefix(sprintID)); err != nil {
		ci.log.Warn("cache invalidation failed", "family", "sprint", "sprintId", sprintID, "err", err)
	}
}

// ChildrenFamily drops every children listing and the count for a task.
func (ci *CacheInvalidator) ChildrenFamily(ctx context.Context, taskID string) {
	if err := ci.cache.DeletePrefix(ctx, childPagePrefix(taskID)); err != nil {
		ci.log.Warn("cache invalidation failed", "family", "children", "taskId", taskID, "err", err)
	}
}

// SprintListing drops the singleton all-sprints listing.
func (ci *CacheInvalidator) SprintListing(ctx context.Context) {
	if err := ci.cache.Delete(ctx, sprintListKey); err != nil {
		ci.log.Warn("cache invalidation failed", "family", "sprint-listing", "err", err)
	}
}
