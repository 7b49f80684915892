package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"sprintsync/internal/domain"
)

func (h *Hub) handleSprintCreate(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	sprint, err := h.sprints.CreateSprint(ctx, req.Name, req.Description)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sprint": sprint}, nil
}

func (h *Hub) handleSprintSetStatus(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" || req.Status == "" {
		return nil, fmt.Errorf("%w: id and status are required", domain.ErrInvalidArgument)
	}
	sprint, updated, err := h.sprints.SetStatus(ctx, req.ID, domain.Status(req.Status))
	if err != nil {
		return nil, err
	}
	return map[string]any{"sprint": sprint, "updated": updated}, nil
}

func (h *Hub) handleSprintChangeDescription(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		ID          string  `json:"id"`
		Description *string `json:"description"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" || req.Description == nil {
		return nil, fmt.Errorf("%w: id and description are required", domain.ErrInvalidArgument)
	}
	sprint, err := h.sprints.SetDescription(ctx, req.ID, *req.Description)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sprint": sprint}, nil
}

func (h *Hub) handleSprintChangeName(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" || req.Name == "" {
		return nil, fmt.Errorf("%w: id and name are required", domain.ErrInvalidArgument)
	}
	sprint, err := h.sprints.SetName(ctx, req.ID, req.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"sprint": sprint}, nil
}

func (h *Hub) handleSprintDelete(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		SprintID string `json:"sprintId"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.SprintID == "" {
		return nil, fmt.Errorf("%w: sprintId is required", domain.ErrInvalidArgument)
	}
	sprint, err := h.sprints.DeleteSprint(ctx, req.SprintID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": sprint.ID, "name": sprint.Name, "deleted": true}, nil
}
