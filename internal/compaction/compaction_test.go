package compaction

import (
	"fmt"
	"testing"

	"github.com/remoteswe/worker/pkg/models"
)

func textItem(text string, tokens int64) models.MessageItem {
	item := models.NewTextItem(models.RoleUser, models.MessageTypeUser, text)
	item.TokenCount = tokens
	return *item
}

func toolPair(id string, useTokens, resultTokens int64) []models.MessageItem {
	use := models.MessageItem{
		Role:        models.RoleAssistant,
		MessageType: models.MessageTypeToolUse,
		TokenCount:  useTokens,
		Content: []models.ContentBlock{{
			ToolUse: &models.ToolUseBlock{ToolUseID: id, Name: "commandExecution"},
		}},
	}
	result := models.MessageItem{
		Role:        models.RoleUser,
		MessageType: models.MessageTypeToolResult,
		TokenCount:  resultTokens,
		Content: []models.ContentBlock{{
			ToolResult: &models.ToolResultBlock{ToolUseID: id, Status: models.ToolResultSuccess},
		}},
	}
	return []models.MessageItem{use, result}
}

func TestNoOpKeepsEverything(t *testing.T) {
	items := []models.MessageItem{textItem("a", 10), textItem("b", 20)}
	window := NoOp(items)
	if len(window.Items) != 2 || window.TotalTokens != 30 || window.Truncated {
		t.Errorf("NoOp() = %d items, %d tokens, truncated=%v", len(window.Items), window.TotalTokens, window.Truncated)
	}
}

func TestMiddleOutUnderCapIsIdentity(t *testing.T) {
	items := []models.MessageItem{textItem("a", 100), textItem("b", 100)}
	window := MiddleOut(items, 1000)
	if window.Truncated {
		t.Error("MiddleOut() truncated a history that fits")
	}
	if len(window.Items) != 2 {
		t.Errorf("MiddleOut() kept %d items, want 2", len(window.Items))
	}
}

func TestMiddleOutEnforcesCap(t *testing.T) {
	// 500k tokens of history against the default 190k cap.
	var items []models.MessageItem
	for i := 0; i < 500; i++ {
		items = append(items, textItem(fmt.Sprintf("item-%d", i), 1000))
	}
	window := MiddleOut(items, DefaultTokenCap)

	if !window.Truncated {
		t.Fatal("MiddleOut() did not truncate an oversized history")
	}
	if window.TotalTokens > DefaultTokenCap {
		t.Errorf("window tokens = %d, want <= %d", window.TotalTokens, DefaultTokenCap)
	}
	if window.Items[0].TextContent() != "item-0" {
		t.Errorf("first item = %q, want item-0", window.Items[0].TextContent())
	}
	last := window.Items[len(window.Items)-1]
	if last.TextContent() != "item-499" {
		t.Errorf("last item = %q, want item-499", last.TextContent())
	}

	var total int64
	for _, item := range window.Items {
		total += item.TokenCount
	}
	if total != window.TotalTokens {
		t.Errorf("reported tokens %d != recomputed %d", window.TotalTokens, total)
	}
}

func TestMiddleOutNeverSplitsToolPairs(t *testing.T) {
	var items []models.MessageItem
	items = append(items, textItem("task", 1000))
	for i := 0; i < 200; i++ {
		items = append(items, toolPair(fmt.Sprintf("t%d", i), 1000, 1000)...)
	}
	window := MiddleOut(items, 50_000)

	if !window.Truncated {
		t.Fatal("MiddleOut() did not truncate")
	}
	for i, item := range window.Items {
		if item.MessageType == models.MessageTypeToolUse {
			if i+1 >= len(window.Items) {
				t.Fatalf("toolUse at end of window has no result")
			}
			next := window.Items[i+1]
			if next.MessageType != models.MessageTypeToolResult {
				t.Fatalf("toolUse at %d followed by %s", i, next.MessageType)
			}
			if item.Content[0].ToolUse.ToolUseID != next.Content[0].ToolResult.ToolUseID {
				t.Fatalf("pair at %d references mismatched IDs", i)
			}
		}
		if item.MessageType == models.MessageTypeToolResult && i > 0 {
			if window.Items[i-1].MessageType != models.MessageTypeToolUse {
				t.Fatalf("toolResult at %d not preceded by toolUse", i)
			}
		}
	}
}

func TestPlanCachePoints(t *testing.T) {
	tests := []struct {
		n         int
		truncated bool
		first     int
		second    int
	}{
		{n: 0, truncated: false, first: -1, second: -1},
		{n: 1, truncated: false, first: 0, second: 0},
		{n: 2, truncated: false, first: 1, second: 1},
		{n: 5, truncated: false, first: 2, second: 4},
		{n: 5, truncated: true, first: 4, second: 4},
	}
	for _, tt := range tests {
		plan := PlanCachePoints(tt.n, tt.truncated)
		if plan.First != tt.first || plan.Second != tt.second {
			t.Errorf("PlanCachePoints(%d, %v) = {%d %d}, want {%d %d}",
				tt.n, tt.truncated, plan.First, plan.Second, tt.first, tt.second)
		}
	}
}

func TestApplyCachePlanMarksItems(t *testing.T) {
	items := []models.MessageItem{
		textItem("a", 1), textItem("b", 1), textItem("c", 1),
		textItem("d", 1), textItem("e", 1),
	}
	marked := ApplyCachePlan(items, PlanCachePoints(len(items), false))

	countMarkers := func(item models.MessageItem) int {
		n := 0
		for _, block := range item.Content {
			if block.CachePoint != nil {
				n++
			}
		}
		return n
	}
	if countMarkers(marked[2]) != 1 {
		t.Errorf("item 2 markers = %d, want 1", countMarkers(marked[2]))
	}
	if countMarkers(marked[4]) != 1 {
		t.Errorf("item 4 markers = %d, want 1", countMarkers(marked[4]))
	}
	for _, i := range []int{0, 1, 3} {
		if countMarkers(marked[i]) != 0 {
			t.Errorf("item %d unexpectedly marked", i)
		}
	}
	// Original slice stays untouched.
	if countMarkers(items[4]) != 0 {
		t.Error("ApplyCachePlan mutated its input")
	}
}

func TestApplyCachePlanCollapsedPoint(t *testing.T) {
	items := []models.MessageItem{textItem("a", 1), textItem("b", 1)}
	marked := ApplyCachePlan(items, PlanCachePoints(len(items), true))
	markers := 0
	for _, block := range marked[1].Content {
		if block.CachePoint != nil {
			markers++
		}
	}
	if markers != 1 {
		t.Errorf("collapsed plan placed %d markers on last item, want 1", markers)
	}
}
