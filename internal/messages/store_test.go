package messages

import (
	"context"
	"log/slog"
	"testing"

	"github.com/remoteswe/worker/internal/kv"
	"github.com/remoteswe/worker/pkg/models"
)

func newTestStore() *Store {
	return NewStore(kv.NewMemoryStore(), slog.Default())
}

func TestAppendAllocatesIncreasingSortKeys(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	first, err := store.Append(ctx, "w1", models.NewTextItem(models.RoleUser, models.MessageTypeUser, "hello"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	second, err := store.Append(ctx, "w1", models.NewTextItem(models.RoleAssistant, models.MessageTypeAssistantResponse, "hi"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if first >= second {
		t.Errorf("sort keys not increasing: %q then %q", first, second)
	}

	items, err := store.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("List() returned %d items, want 2", len(items))
	}
	if items[0].TextContent() != "hello" || items[1].TextContent() != "hi" {
		t.Errorf("List() not oldest-first: %q, %q", items[0].TextContent(), items[1].TextContent())
	}
}

func TestAppendPairPersistsBothItems(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "w1", models.NewTextItem(models.RoleUser, models.MessageTypeUser, "list files")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	toolUse := &models.MessageItem{
		Role:        models.RoleAssistant,
		MessageType: models.MessageTypeToolUse,
		Content: []models.ContentBlock{{
			ToolUse: &models.ToolUseBlock{ToolUseID: "t1", Name: "commandExecution", Input: map[string]any{"cmd": "ls"}},
		}},
	}
	toolResult := &models.MessageItem{
		Role:        models.RoleUser,
		MessageType: models.MessageTypeToolResult,
		Content: []models.ContentBlock{{
			ToolResult: &models.ToolResultBlock{
				ToolUseID: "t1",
				Content:   []models.ToolResultContent{{Text: &models.TextBlock{Text: "a.txt"}}},
				Status:    models.ToolResultSuccess,
			},
		}},
	}

	keys, err := store.AppendPair(ctx, "w1", toolUse, toolResult, 120, 0)
	if err != nil {
		t.Fatalf("AppendPair() error = %v", err)
	}
	if keys[0] >= keys[1] {
		t.Errorf("pair sort keys not increasing: %v", keys)
	}

	items, err := store.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("List() returned %d items, want 3", len(items))
	}
	use, result := items[1], items[2]
	if use.MessageType != models.MessageTypeToolUse || result.MessageType != models.MessageTypeToolResult {
		t.Fatalf("pair types = %s, %s", use.MessageType, result.MessageType)
	}
	if use.Content[0].ToolUse.ToolUseID != result.Content[0].ToolResult.ToolUseID {
		t.Error("toolUse and toolResult reference different tool-use IDs")
	}
	if use.TokenCount != 120 {
		t.Errorf("toolUse tokenCount = %d, want 120", use.TokenCount)
	}
}

func TestUpdateTokenCount(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	sk, err := store.Append(ctx, "w1", models.NewTextItem(models.RoleUser, models.MessageTypeUser, "hello"))
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.UpdateTokenCount(ctx, "w1", sk, 42); err != nil {
		t.Fatalf("UpdateTokenCount() error = %v", err)
	}

	items, err := store.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if items[0].TokenCount != 42 {
		t.Errorf("tokenCount = %d, want 42", items[0].TokenCount)
	}
}

func TestAttributeBilledInput(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "w1", models.NewTextItem(models.RoleUser, models.MessageTypeUser, "first")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	assistant := models.NewTextItem(models.RoleAssistant, models.MessageTypeAssistantResponse, "reply")
	assistant.TokenCount = 30
	if _, err := store.Append(ctx, "w1", assistant); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if _, err := store.Append(ctx, "w1", models.NewTextItem(models.RoleUser, models.MessageTypeUser, "second")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	items, err := store.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	// Recorded counts sum to 30; the provider billed 100, so the last
	// user item absorbs the remaining 70.
	store.AttributeBilledInput(ctx, "w1", items, 100)

	items, err = store.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if items[2].TokenCount != 70 {
		t.Errorf("last user tokenCount = %d, want 70", items[2].TokenCount)
	}
	if items[0].TokenCount != 0 {
		t.Errorf("earlier user tokenCount = %d, want 0", items[0].TokenCount)
	}

	var total int64
	for _, item := range items {
		total += item.TokenCount
	}
	if total != 100 {
		t.Errorf("total recorded tokens = %d, want 100", total)
	}
}

func TestAttributeBilledInputNegativeDelta(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()

	user := models.NewTextItem(models.RoleUser, models.MessageTypeUser, "hello")
	user.TokenCount = 200
	if _, err := store.Append(ctx, "w1", user); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	items, err := store.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	store.AttributeBilledInput(ctx, "w1", items, 150)

	items, err = store.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if items[0].TokenCount != 150 {
		t.Errorf("tokenCount after negative delta = %d, want 150", items[0].TokenCount)
	}
}
