package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"sprintsync/internal/app"
	"sprintsync/internal/domain"
)

func (h *Hub) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		"task:create":                h.handleTaskCreate,
		"task:update":                h.handleTaskUpdate,
		"task:set_status":            h.handleTaskSetStatus,
		"task:change_description":    h.handleTaskChangeDescription,
		"task:change_name":           h.handleTaskChangeName,
		"task:change_assignee":       h.handleTaskChangeAssignee,
		"task:request_delete":        h.handleTaskDelete,
		"task:get_by_index":          h.handleTasksByIndex,
		"task:get_children_by_index": h.handleChildrenByIndex,

		"sprint:create":             h.handleSprintCreate,
		"sprint:set_status":         h.handleSprintSetStatus,
		"sprint:change_description": h.handleSprintChangeDescription,
		"sprint:change_name":        h.handleSprintChangeName,
		"sprint:request_delete":     h.handleSprintDelete,

		"user:request_all":          h.handleUsersAll,
		"user:request_online_users": h.handleOnlineUsers,

		"auth:renew": h.handleAuthRenew,
		"ping":       h.handlePing,
	}
}

func decode(data json.RawMessage, dst any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing payload", domain.ErrInvalidArgument)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: malformed payload", domain.ErrInvalidArgument)
	}
	return nil
}

func (h *Hub) handleTaskCreate(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		Hours       float64 `json:"hours"`
		SprintID    string  `json:"sprintId"`
		ParentID    string  `json:"parentId"`
		AssignedTo  string  `json:"assignedTo"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.SprintID == "" {
		return nil, fmt.Errorf("%w: sprintId is required", domain.ErrInvalidArgument)
	}
	task, err := h.tasks.CreateTask(ctx, app.CreateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Hours:       req.Hours,
		SprintID:    req.SprintID,
		ParentID:    req.ParentID,
		AssignedTo:  req.AssignedTo,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func (h *Hub) handleTaskUpdate(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		ID          string   `json:"id"`
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
		Hours       *float64 `json:"hours"`
		SprintID    *string  `json:"sprintId"`
		ParentID    *string  `json:"parentId"`
		AssignedTo  *string  `json:"assignedTo"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrInvalidArgument)
	}
	task, err := h.tasks.UpdateTask(ctx, req.ID, app.UpdateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Hours:       req.Hours,
		SprintID:    req.SprintID,
		ParentID:    req.ParentID,
		AssignedTo:  req.AssignedTo,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task}, nil
}

func (h *Hub) handleTaskSetStatus(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
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
	task, updated, err := h.tasks.SetStatus(ctx, req.ID, domain.Status(req.Status))
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task, "updated": updated}, nil
}

func (h *Hub) handleTaskChangeDescription(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
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
	task, updated, err := h.tasks.SetDescription(ctx, req.ID, *req.Description)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task, "updated": updated}, nil
}

func (h *Hub) handleTaskChangeName(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
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
	task, updated, err := h.tasks.SetTitle(ctx, req.ID, req.Name)
	if err != nil {
		return nil, err
	}
	return map[string]any{"task": task, "updated": updated}, nil
}

func (h *Hub) handleTaskChangeAssignee(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		TaskID     string `json:"taskId"`
		AssigneeID string `json:"assigneeId"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrInvalidArgument)
	}
	if _, err := h.tasks.SetAssignee(ctx, req.TaskID, req.AssigneeID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (h *Hub) handleTaskDelete(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		TaskID string `json:"taskId"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrInvalidArgument)
	}
	task, err := h.tasks.DeleteTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": task.ID, "deleted": true, "sprintId": task.SprintID}, nil
}

func (h *Hub) handleTasksByIndex(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		SprintID  string `json:"sprintId"`
		Index     int    `json:"index"`
		Limit     int    `json:"limit"`
		IsForward *bool  `json:"isForward"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.SprintID == "" {
		return nil, fmt.Errorf("%w: sprintId is required", domain.ErrInvalidArgument)
	}
	forward := req.IsForward == nil || *req.IsForward
	page, err := h.tasks.ListTasks(ctx, req.SprintID, req.Index, req.Limit, forward)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": page.Items, "pagination": page}, nil
}

func (h *Hub) handleChildrenByIndex(ctx context.Context, _ *client, data json.RawMessage) (any, error) {
	var req struct {
		TaskID    string `json:"taskId"`
		Index     int    `json:"index"`
		Limit     int    `json:"limit"`
		IsForward *bool  `json:"isForward"`
	}
	if err := decode(data, &req); err != nil {
		return nil, err
	}
	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: taskId is required", domain.ErrInvalidArgument)
	}
	forward := req.IsForward == nil || *req.IsForward
	page, err := h.tasks.ListChildren(ctx, req.TaskID, req.Index, req.Limit, forward)
	if err != nil {
		return nil, err
	}
	return map[string]any{"children": page.Items, "pagination": page}, nil
}
