package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/remoteswe/worker/internal/sessions"
	"github.com/remoteswe/worker/pkg/models"
)

// Required tools are offered to the model on every turn regardless of the
// custom agent's allow list.
var RequiredToolNames = []string{"reportProgress", "todoInit", "todoUpdate", "sendImage"}

// NewBuiltinRegistry builds the catalog of built-in tools.
func NewBuiltinRegistry(store *sessions.Store) *Registry {
	registry := NewRegistry()
	registry.MustRegister(&ReportProgressTool{store: store})
	registry.MustRegister(&TodoInitTool{store: store})
	registry.MustRegister(&TodoUpdateTool{store: store})
	registry.MustRegister(&SendImageTool{})
	return registry
}

// ReportProgressTool lets the agent narrate what it is doing. The loop
// mirrors the report into the conversation transcript; the tool records the
// report time so renderers can detect long silences.
type ReportProgressTool struct {
	store *sessions.Store
}

func (t *ReportProgressTool) Name() string { return "reportProgress" }

func (t *ReportProgressTool) Description() string {
	return "Report progress to the user. Use this regularly to describe what you are working on and what comes next."
}

func (t *ReportProgressTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"progress": map[string]any{
				"type":        "string",
				"description": "A short, user-facing progress update.",
			},
		},
		"required":             []any{"progress"},
		"additionalProperties": false,
	}
}

func (t *ReportProgressTool) Execute(ctx context.Context, input map[string]any, inv Invocation) (*Result, error) {
	progress, _ := input["progress"].(string)
	if strings.TrimSpace(progress) == "" {
		return nil, fmt.Errorf("progress must not be empty")
	}
	if err := t.store.TouchLastReport(ctx, inv.WorkerID); err != nil {
		return nil, err
	}
	return TextResult("Progress reported."), nil
}

// TodoInitTool replaces the session's task list.
type TodoInitTool struct {
	store *sessions.Store
}

func (t *TodoInitTool) Name() string { return "todoInit" }

func (t *TodoInitTool) Description() string {
	return "Initialize the task list for this session. Replaces any existing list."
}

func (t *TodoInitTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":        "array",
				"description": "Task descriptions, in execution order.",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
			},
		},
		"required":             []any{"items"},
		"additionalProperties": false,
	}
}

func (t *TodoInitTool) Execute(ctx context.Context, input map[string]any, inv Invocation) (*Result, error) {
	rawItems, _ := input["items"].([]any)
	list := sessions.TodoListMetadata{}
	for _, raw := range rawItems {
		body, _ := raw.(string)
		if strings.TrimSpace(body) == "" {
			continue
		}
		list.Items = append(list.Items, sessions.TodoItem{
			ID:     uuid.NewString()[:8],
			Body:   body,
			Status: "pending",
		})
	}
	if len(list.Items) == 0 {
		return nil, fmt.Errorf("task list must contain at least one item")
	}
	if err := t.store.SetTodoList(ctx, inv.WorkerID, list); err != nil {
		return nil, err
	}
	return TextResult(renderTodoList(list)), nil
}

// TodoUpdateTool moves one task to a new status.
type TodoUpdateTool struct {
	store *sessions.Store
}

func (t *TodoUpdateTool) Name() string { return "todoUpdate" }

func (t *TodoUpdateTool) Description() string {
	return "Update the status of one task in the session's task list."
}

func (t *TodoUpdateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "The task id from the current list.",
			},
			"status": map[string]any{
				"type": "string",
				"enum": []any{"pending", "in_progress", "completed", "cancelled"},
			},
		},
		"required":             []any{"id", "status"},
		"additionalProperties": false,
	}
}

func (t *TodoUpdateTool) Execute(ctx context.Context, input map[string]any, inv Invocation) (*Result, error) {
	id, _ := input["id"].(string)
	status, _ := input["status"].(string)

	list, err := t.store.GetTodoList(ctx, inv.WorkerID)
	if err != nil {
		return nil, err
	}
	found := false
	for i := range list.Items {
		if list.Items[i].ID == id {
			list.Items[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("no task with id %s", id)
	}
	if err := t.store.SetTodoList(ctx, inv.WorkerID, *list); err != nil {
		return nil, err
	}
	return TextResult(renderTodoList(*list)), nil
}

func renderTodoList(list sessions.TodoListMetadata) string {
	var b strings.Builder
	b.WriteString("Current task list:\n")
	for _, item := range list.Items {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", item.ID, item.Body, item.Status)
	}
	return b.String()
}

// SendImageTool ships an image from the worker's filesystem back to the
// conversation, both for the user and for the model's next turn.
type SendImageTool struct{}

func (t *SendImageTool) Name() string { return "sendImage" }

func (t *SendImageTool) Description() string {
	return "Send an image file to the user, for example a screenshot or a rendered diagram."
}

func (t *SendImageTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"imagePath": map[string]any{
				"type":        "string",
				"description": "Absolute path of the image file on this worker.",
			},
			"description": map[string]any{
				"type":        "string",
				"description": "Optional caption shown with the image.",
			},
		},
		"required":             []any{"imagePath"},
		"additionalProperties": false,
	}
}

func (t *SendImageTool) Execute(_ context.Context, input map[string]any, _ Invocation) (*Result, error) {
	path, _ := input["imagePath"].(string)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}

	caption, _ := input["description"].(string)
	if caption == "" {
		caption = "Sent image " + filepath.Base(path)
	}
	return &Result{
		Text: caption,
		Content: []models.ToolResultContent{
			{Text: &models.TextBlock{Text: caption}},
			{Image: &models.ImageBlock{Format: imageFormatFromPath(path), Bytes: data}},
		},
	}, nil
}

func imageFormatFromPath(path string) models.ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return models.ImageFormatJPEG
	case ".gif":
		return models.ImageFormatGIF
	case ".webp":
		return models.ImageFormatWebP
	default:
		return models.ImageFormatPNG
	}
}
