package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"sprintsync/internal/domain"
)

const (
	presenceUserPrefix = "presence:user:"
	presenceConnPrefix = "presence:conn:"
	presenceOnlineKey  = "presence:online"
	presenceTTL        = time.Hour
)

// PresenceRegistry tracks which users are connected, potentially from
// several devices or tabs, in the cache store. Every read reconciles the
// recorded connection ids against the live transport layer and silently
// drops dead entries, so occasional missed disconnect events cannot grow a
// ghost connection list forever.
type PresenceRegistry struct {
	cache domain.CacheStore
	live  domain.ConnectionLiveness
	log   *slog.Logger
}

// NewPresenceRegistry creates a registry over the given cache store. The
// liveness source is bound later with BindLiveness because the transport is
// constructed after the registry.
func NewPresenceRegistry(cache domain.CacheStore, log *slog.Logger) *PresenceRegistry {
	return &PresenceRegistry{cache: cache, log: log}
}

// BindLiveness attaches the transport-layer liveness source. Until bound,
// every recorded connection id counts as open.
func (r *PresenceRegistry) BindLiveness(live domain.ConnectionLiveness) {
	r.live = live
}

// RegisterConnection records connectionID for the user. Registering the same
// id twice is a no-op. Returns true when the user just came online.
func (r *PresenceRegistry) RegisterConnection(ctx context.Context, user *domain.User, connectionID string) (bool, error) {
	// Reverse mapping first so the new id passes its own validity check.
	if err := r.cache.Set(ctx, presenceConnPrefix+connectionID, user.ID, presenceTTL); err != nil {
		return false, err
	}

	entry, err := r.loadEntry(ctx, user.ID)
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	cameOnline := false
	if entry == nil {
		entry = &domain.PresenceEntry{
			UserID:      user.ID,
			Name:        user.Name,
			ConnectedAt: now,
		}
		if err := r.cache.SetAdd(ctx, presenceOnlineKey, user.ID); err != nil {
			return false, err
		}
		cameOnline = true
	} else {
		entry.ConnectionIDs = r.validConnections(ctx, entry.ConnectionIDs)
	}

	if !slices.Contains(entry.ConnectionIDs, connectionID) {
		entry.ConnectionIDs = append(entry.ConnectionIDs, connectionID)
	}
	entry.Name = user.Name
	entry.LastConnectedAt = now

	return cameOnline, r.saveEntry(ctx, entry)
}

// UnregisterConnection removes connectionID from its owning user, found via
// the reverse mapping. Returns the user id and whether the user went
// offline entirely.
func (r *PresenceRegistry) UnregisterConnection(ctx context.Context, connectionID string) (string, bool, error) {
	userID, ok, err := r.cache.Get(ctx, presenceConnPrefix+connectionID)
	if err != nil || !ok {
		return "", false, err
	}
	if err := r.cache.Delete(ctx, presenceConnPrefix+connectionID); err != nil {
		return userID, false, err
	}

	entry, err := r.loadEntry(ctx, userID)
	if err != nil {
		return userID, false, err
	}
	if entry == nil {
		return userID, true, r.cache.SetRemove(ctx, presenceOnlineKey, userID)
	}

	survivors := make([]string, 0, len(entry.ConnectionIDs))
	for _, id := range entry.ConnectionIDs {
		if id != connectionID && r.validConnection(ctx, id) {
			survivors = append(survivors, id)
		}
	}
	if len(survivors) == 0 {
		return userID, true, r.evict(ctx, userID)
	}
	entry.ConnectionIDs = survivors
	return userID, false, r.saveEntry(ctx, entry)
}

// ListOnline returns one row per user with at least one valid connection.
// Users found with zero valid connections are lazily evicted.
func (r *PresenceRegistry) ListOnline(ctx context.Context) ([]domain.OnlineUser, error) {
	ids, err := r.cache.SetMembers(ctx, presenceOnlineKey)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)

	online := make([]domain.OnlineUser, 0, len(ids))
	for _, userID := range ids {
		entry, err := r.loadEntry(ctx, userID)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			_ = r.cache.SetRemove(ctx, presenceOnlineKey, userID)
			continue
		}
		valid := r.validConnections(ctx, entry.ConnectionIDs)
		if len(valid) == 0 {
			if err := r.evict(ctx, userID); err != nil {
				r.log.Warn("presence evict failed", "userId", userID, "err", err)
			}
			continue
		}
		if len(valid) != len(entry.ConnectionIDs) {
			entry.ConnectionIDs = valid
			if err := r.saveEntry(ctx, entry); err != nil {
				r.log.Warn("presence update failed", "userId", userID, "err", err)
			}
		}
		online = append(online, domain.OnlineUser{ID: entry.UserID, Name: entry.Name})
	}
	return online, nil
}

// Reconcile forces a full recheck of one user's connections against the
// transport layer and reports which survived.
func (r *PresenceRegistry) Reconcile(ctx context.Context, userID string) (*domain.ValidationReport, error) {
	report := &domain.ValidationReport{UserID: userID, Valid: []string{}, Removed: []string{}}

	entry, err := r.loadEntry(ctx, userID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return report, r.cache.SetRemove(ctx, presenceOnlineKey, userID)
	}

	for _, id := range entry.ConnectionIDs {
		if r.validConnection(ctx, id) {
			report.Valid = append(report.Valid, id)
		} else {
			report.Removed = append(report.Removed, id)
		}
	}

	if len(report.Valid) == 0 {
		return report, r.evict(ctx, userID)
	}
	entry.ConnectionIDs = report.Valid
	return report, r.saveEntry(ctx, entry)
}

// Sweep walks every online user and evicts stale connection ids. Run
// periodically so a leaked entry is bounded by the sweep interval even
// without a triggering read.
func (r *PresenceRegistry) Sweep(ctx context.Context) {
	if _, err := r.ListOnline(ctx); err != nil {
		r.log.Warn("presence sweep failed", "err", err)
	}
}

// A connection id is valid when its reverse mapping still exists and the
// transport reports the connection open. Both must hold.
func (r *PresenceRegistry) validConnection(ctx context.Context, connectionID string) bool {
	_, ok, err := r.cache.Get(ctx, presenceConnPrefix+connectionID)
	if err != nil || !ok {
		return false
	}
	return r.live == nil || r.live.IsOpen(connectionID)
}

func (r *PresenceRegistry) validConnections(ctx context.Context, ids []string) []string {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if r.validConnection(ctx, id) {
			valid = append(valid, id)
		}
	}
	return valid
}

func (r *PresenceRegistry) evict(ctx context.Context, userID string) error {
	if err := r.cache.Delete(ctx, presenceUserPrefix+userID); err != nil {
		return err
	}
	return r.cache.SetRemove(ctx, presenceOnlineKey, userID)
}

func (r *PresenceRegistry) loadEntry(ctx context.Context, userID string) (*domain.PresenceEntry, error) {
	raw, ok, err := r.cache.Get(ctx, presenceUserPrefix+userID)
	if err != nil || !ok {
		return nil, err
	}
	var entry domain.PresenceEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// A corrupt entry is unrecoverable; drop it.
		r.log.Warn("dropping corrupt presence entry", "userId", userID, "err", err)
		return nil, r.evict(ctx, userID)
	}
	return &entry, nil
}

func (r *PresenceRegistry) saveEntry(ctx context.Context, entry *domain.PresenceEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.cache.Set(ctx, presenceUserPrefix+entry.UserID, string(raw), presenceTTL)
}
