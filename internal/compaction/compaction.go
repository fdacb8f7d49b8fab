// Package compaction builds the message window sent to the model: it
// enforces the context-token cap by removing a contiguous middle range of
// history and places prompt-cache checkpoints.
package compaction

import (
	"github.com/remoteswe/worker/pkg/models"
)

// DefaultTokenCap is the soft context cap, about 95% of a 200k window.
const DefaultTokenCap = 190_000

// Share of the cap reserved for the earliest items (system framing and the
// initial task statement) when truncating.
const prefixShare = 4

// Window is the projected message list for one LLM call.
type Window struct {
	Items       []models.MessageItem
	TotalTokens int64
	Truncated   bool
}

// NoOp projects the full history unchanged.
func NoOp(items []models.MessageItem) Window {
	return Window{Items: items, TotalTokens: sumTokens(items)}
}

// MiddleOut removes a contiguous middle range of history so the window fits
// under cap. The earliest items and the latest items are preserved; a
// toolUse item and its toolResult are never split across the cut. When the
// history already fits, the projection is the identity.
func MiddleOut(items []models.MessageItem, cap int64) Window {
	if cap <= 0 {
		cap = DefaultTokenCap
	}
	total := sumTokens(items)
	if total <= cap {
		return Window{Items: items, TotalTokens: total}
	}

	// Grow the prefix greedily up to its budget share.
	prefixBudget := cap / prefixShare
	prefixEnd := 0
	var prefixTokens int64
	for prefixEnd < len(items) {
		next := prefixTokens + items[prefixEnd].TokenCount
		if prefixEnd > 0 && next > prefixBudget {
			break
		}
		prefixTokens = next
		prefixEnd++
	}
	// Never cut between a toolUse and its toolResult.
	for prefixEnd > 0 && items[prefixEnd-1].MessageType == models.MessageTypeToolUse {
		prefixEnd--
		prefixTokens -= items[prefixEnd].TokenCount
	}

	// Fill the rest of the budget from the newest end.
	suffixStart := len(items)
	suffixTokens := int64(0)
	for suffixStart > prefixEnd {
		candidate := suffixStart - 1
		next := suffixTokens + items[candidate].TokenCount
		if prefixTokens+next > cap {
			break
		}
		suffixTokens = next
		suffixStart = candidate
	}
	for suffixStart < len(items) && items[suffixStart].MessageType == models.MessageTypeToolResult {
		suffixTokens -= items[suffixStart].TokenCount
		suffixStart++
	}

	if suffixStart <= prefixEnd {
		// Nothing was removed after boundary fixes; keep the history whole.
		return Window{Items: items, TotalTokens: total}
	}

	kept := make([]models.MessageItem, 0, prefixEnd+len(items)-suffixStart)
	kept = append(kept, items[:prefixEnd]...)
	kept = append(kept, items[suffixStart:]...)
	return Window{Items: kept, TotalTokens: prefixTokens + suffixTokens, Truncated: true}
}

// CachePlan names the items that carry the two message cache points. Indices
// may coincide, in which case a single point is placed.
type CachePlan struct {
	First  int
	Second int
}

// PlanCachePoints chooses cache-point positions for a window of n items.
// The second point sits on the last message; the first sits three from the
// end so the cache survives one tool round-trip. After a truncation run all
// prior cache points are invalid, so both collapse to the last message.
func PlanCachePoints(n int, truncated bool) CachePlan {
	if n == 0 {
		return CachePlan{First: -1, Second: -1}
	}
	last := n - 1
	if truncated || n <= 2 {
		return CachePlan{First: last, Second: last}
	}
	return CachePlan{First: n - 3, Second: last}
}

// ApplyCachePlan appends cache-point markers to the planned items' content.
// The input slice is not modified; items that receive a marker are copied.
func ApplyCachePlan(items []models.MessageItem, plan CachePlan) []models.MessageItem {
	if plan.Second < 0 {
		return items
	}
	out := make([]models.MessageItem, len(items))
	copy(out, items)
	mark := func(i int) {
		content := make([]models.ContentBlock, len(out[i].Content), len(out[i].Content)+1)
		copy(content, out[i].Content)
		out[i].Content = append(content, models.ContentBlock{CachePoint: &models.CachePointBlock{}})
	}
	mark(plan.Second)
	if plan.First != plan.Second {
		mark(plan.First)
	}
	return out
}

func sumTokens(items []models.MessageItem) int64 {
	var total int64
	for i := range items {
		total += items[i].TokenCount
	}
	return total
}
