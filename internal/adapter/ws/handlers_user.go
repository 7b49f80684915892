package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"sprintsync/internal/domain"
)

func (h *Hub) handleUsersAll(ctx context.Context, _ *client, _ json.RawMessage) (any, error) {
	all, err := h.users.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]domain.OnlineUser, 0, len(all))
	for _, u := range all {
		users = append(users, domain.OnlineUser{ID: u.ID, Name: u.Name})
	}
	return map[string]any{"users": users}, nil
}

func (h *Hub) handleOnlineUsers(ctx context.Context, _ *client, _ json.RawMessage) (any, error) {
	online, err := h.presence.ListOnline(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"users": online, "count": len(online)}, nil
}

// handleAuthRenew replaces a connection's credential before the expiry sweep
// closes it. The new token must belong to the same user.
func (h *Hub) handleAuthRenew(ctx context.Context, c *client, data json.RawMessage) (any, error) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.Token == "" {
		return nil, fmt.Errorf("%w: token is required", domain.ErrInvalidArgument)
	}
	claims, err := h.verifier.Verify(ctx, req.Token)
	if err != nil {
		return nil, err
	}
	if claims.Subject != c.externalID {
		return nil, fmt.Errorf("%w: token belongs to another user", domain.ErrAuthFailure)
	}
	c.renew(claims.ExpiresAt)
	return map[string]any{"ok": true, "expiresAt": claims.ExpiresAt}, nil
}

// handlePing echoes whatever payload the client sent.
func (h *Hub) handlePing(_ context.Context, c *client, data json.RawMessage) (any, error) {
	c.reply("pong", json.RawMessage(data))
	return nil, nil
}
