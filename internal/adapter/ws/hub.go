// Package ws implements the real-time synchronization hub. Each connection
// is authenticated on accept, registered in the presence registry, and
// serviced concurrently; mutation outcomes reach every client as refresh
// notifications published on the event bus.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"sprintsync/internal/app"
	"sprintsync/internal/auth"
	"sprintsync/internal/domain"
)

// Options tune the hub's background sweeps. Tests compress the intervals.
type Options struct {
	// PresenceSweepInterval bounds how long a ghost presence entry survives.
	PresenceSweepInterval time.Duration
	// TokenSweepInterval is how often connection credentials are rechecked.
	TokenSweepInterval time.Duration
	// ExpiryGrace is how long an expired connection has to renew after being
	// notified, before it is forcibly closed.
	ExpiryGrace time.Duration
}

// DefaultOptions returns the production sweep cadence.
func DefaultOptions() Options {
	return Options{
		PresenceSweepInterval: 5 * time.Minute,
		TokenSweepInterval:    2 * time.Minute,
		ExpiryGrace:           5 * time.Second,
	}
}

// Hub owns every live connection. It satisfies domain.ConnectionLiveness so
// the presence registry can reconcile its bookkeeping against the transport.
type Hub struct {
	verifier auth.TokenVerifier
	users    domain.UserRepository
	presence *app.PresenceRegistry
	tasks    *app.TaskService
	sprints  *app.SprintService
	opts     Options
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, c *client, data json.RawMessage) (any, error)

// NewHub wires a hub and subscribes it to the event bus, so every mutation
// event becomes a refresh broadcast through one mechanism.
func NewHub(verifier auth.TokenVerifier, users domain.UserRepository, presence *app.PresenceRegistry,
	tasks *app.TaskService, sprints *app.SprintService, bus *app.EventBus, opts Options, log *slog.Logger) *Hub {
	h := &Hub{
		verifier: verifier,
		users:    users,
		presence: presence,
		tasks:    tasks,
		sprints:  sprints,
		opts:     opts,
		log:      log,
		clients:  make(map[string]*client),
	}
	h.handlers = h.routes()
	bus.Subscribe(h.onEvent)
	presence.BindLiveness(h)
	return h
}

// IsOpen reports whether the connection id belongs to a live client.
func (h *Hub) IsOpen(connectionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[connectionID]
	return ok
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run drives the background sweeps until ctx is cancelled. One failed sweep
// never stops future sweeps.
func (h *Hub) Run(ctx context.Context) {
	presenceTick := time.NewTicker(h.opts.PresenceSweepInterval)
	tokenTick := time.NewTicker(h.opts.TokenSweepInterval)
	defer presenceTick.Stop()
	defer tokenTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-presenceTick.C:
			h.presence.Sweep(ctx)
		case <-tokenTick.C:
			h.sweepExpiredTokens()
		}
	}
}

// ServeHTTP upgrades the request and runs the connection lifecycle:
// Connecting -> Authenticated -> Active -> Closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := credentialFromRequest(r)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}

	ctx := context.Background()

	if token == "" {
		h.reject(ctx, conn, "auth:error", "missing credential")
		return
	}
	claims, err := h.verifier.Verify(ctx, token)
	if err != nil {
		h.reject(ctx, conn, "auth:error", "invalid credential")
		return
	}

	// A verified credential implies the user row already exists; the hub
	// never creates users. Absence is a cross-system inconsistency, not an
	// auth failure.
	user, err := h.users.GetByExternalID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.log.Error("verified subject has no user row", "subject", claims.Subject, "name", claims.Name)
			h.reject(ctx, conn, "auth:error", "unknown user")
			return
		}
		h.log.Error("user lookup failed", "subject", claims.Subject, "err", err)
		h.reject(ctx, conn, "auth:error", "internal error")
		return
	}

	c := &client{
		id:         uuid.NewString(),
		userID:     user.ID,
		externalID: user.ExternalID,
		conn:       conn,
		send:       make(chan []byte, 64),
		expiresAt:  claims.ExpiresAt,
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	go c.writePump(h.log)

	if _, err := h.presence.RegisterConnection(ctx, user, c.id); err != nil {
		h.log.Warn("presence register failed", "connectionId", c.id, "err", err)
	}
	h.broadcastOnlineUsers(ctx)

	c.enqueue(mustMarshal("connected", map[string]any{
		"connectionId": c.id,
		"user":         domain.OnlineUser{ID: user.ID, Name: user.Name},
	}))
	if sprints, err := h.sprints.ListSprints(ctx); err == nil {
		c.enqueue(mustMarshal("sprint:get_all", map[string]any{"sprints": sprints}))
	} else {
		h.log.Warn("sprint listing on connect failed", "err", err)
	}

	h.log.Info("client connected", "connectionId", c.id, "userId", user.ID)
	h.readLoop(ctx, c)
}

// readLoop services one connection until it drops. Each request is handled
// in its own goroutine so a slow mutation never blocks the next read or
// broadcasts to other connections.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer h.teardown(c)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Event == "" {
			c.reply("error", errorPayload(domain.ErrInvalidArgument, "malformed message"))
			continue
		}
		go h.dispatch(ctx, c, msg)
	}
}

// dispatch runs one request. Validation and service failures become an error
// reply to the requester alone; an unexpected panic is contained the same
// way and never crashes the hub or other connections.
func (h *Hub) dispatch(ctx context.Context, c *client, msg inboundMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("request handler panicked", "event", msg.Event, "panic", rec)
			c.reply(msg.Event, errorPayload(nil, "internal error"))
		}
	}()

	handler, ok := h.handlers[msg.Event]
	if !ok {
		c.reply(msg.Event, errorPayload(domain.ErrInvalidArgument, "unknown operation"))
		return
	}
	result, err := handler(ctx, c, msg.Data)
	if err != nil {
		c.reply(msg.Event, errorPayload(err, err.Error()))
		return
	}
	if result != nil {
		c.reply(msg.Event, result)
	}
}

// teardown moves a connection to Closed: drop it from the client map,
// unregister its presence, and tell everyone who is still online.
func (h *Hub) teardown(c *client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if !present {
		return
	}

	c.close(websocket.StatusNormalClosure, "")
	c.shutdownSend()

	ctx := context.Background()
	if _, _, err := h.presence.UnregisterConnection(ctx, c.id); err != nil {
		h.log.Warn("presence unregister failed", "connectionId", c.id, "err", err)
	}
	h.broadcastOnlineUsers(ctx)
	h.log.Info("client disconnected", "connectionId", c.id, "userId", c.userID)
}

// reject sends a best-effort auth failure notice and closes the transport.
func (h *Hub) reject(ctx context.Context, conn *websocket.Conn, event, reason string) {
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	_ = conn.Write(wctx, websocket.MessageText, mustMarshal(event, map[string]any{"error": reason}))
	cancel()
	_ = conn.Close(websocket.StatusPolicyViolation, reason)
}

// onEvent turns a domain event into a refresh broadcast. The notification is
// a hint naming the affected ids, not a diff; clients re-request pages.
func (h *Hub) onEvent(ev app.Event) {
	payload := map[string]any{"action": ev.Action}
	for k, v := range ev.Data {
		payload[k] = v
	}
	h.broadcast(ev.Entity+":refresh", payload)
}

// broadcast fans a message out to every live connection. Slow consumers are
// skipped rather than allowed to stall the rest.
func (h *Hub) broadcast(event string, data any) {
	raw := mustMarshal(event, data)
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(raw) {
			h.log.Warn("dropping broadcast to slow client", "connectionId", c.id, "event", event)
		}
	}
}

func (h *Hub) broadcastOnlineUsers(ctx context.Context) {
	online, err := h.presence.ListOnline(ctx)
	if err != nil {
		h.log.Warn("online listing failed", "err", err)
		return
	}
	h.broadcast("user:online_users", map[string]any{"users": online, "count": len(online)})
}

// sweepExpiredTokens notifies connections whose credential has left its
// validity window, then closes any that have not renewed within the grace
// period.
func (h *Hub) sweepExpiredTokens() {
	now := time.Now()
	h.mu.RLock()
	var expired []*client
	for _, c := range h.clients {
		if c.expired(now) {
			expired = append(expired, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range expired {
		if !c.markNotified() {
			continue
		}
		h.log.Info("credential expired, notifying", "connectionId", c.id, "userId", c.userID)
		c.reply("auth:token_expired", map[string]any{"graceMs": h.opts.ExpiryGrace.Milliseconds()})
		go func(c *client) {
			timer := time.NewTimer(h.opts.ExpiryGrace)
			defer timer.Stop()
			<-timer.C
			if c.expired(time.Now()) {
				h.log.Info("closing expired connection", "connectionId", c.id)
				c.close(websocket.StatusPolicyViolation, "token expired")
				h.teardown(c)
			}
		}(c)
	}
}
