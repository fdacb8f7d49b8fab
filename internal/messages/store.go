// Package messages persists the append-only conversation log of a session.
package messages

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/remoteswe/worker/internal/kv"
	"github.com/remoteswe/worker/pkg/models"
)

const sortKeyWidth = 10

// Store reads and appends conversation items for a session. Sort keys are
// strictly increasing zero-padded sequence numbers; allocation assumes the
// single-loop-per-worker invariant, so no conditional writes are needed.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a message store over the shared table.
func NewStore(store kv.Store, logger *slog.Logger) *Store {
	return &Store{kv: store, logger: logger, now: time.Now}
}

// Append allocates the next sort key for the session and persists the item.
// The item's SK and CreatedAt are filled in; the assigned sort key is returned.
func (s *Store) Append(ctx context.Context, workerID string, item *models.MessageItem) (string, error) {
	next, err := s.nextSequence(ctx, workerID)
	if err != nil {
		return "", err
	}
	item.SK = formatSortKey(next)
	item.CreatedAt = s.now().UnixMilli()
	if err := s.kv.Put(ctx, kv.Put{PK: workerID, SK: item.SK, Item: item}); err != nil {
		return "", fmt.Errorf("messages: append %s: %w", workerID, err)
	}
	return item.SK, nil
}

// AppendPair persists a toolUse item and its matching toolResult item in one
// transaction. A toolUse without its result is never observable. The
// assistant's output tokens and any non-default thinking budget are recorded
// on the toolUse item.
func (s *Store) AppendPair(ctx context.Context, workerID string, toolUse, toolResult *models.MessageItem, outputTokens int64, thinkingBudget int) ([2]string, error) {
	next, err := s.nextSequence(ctx, workerID)
	if err != nil {
		return [2]string{}, err
	}
	now := s.now().UnixMilli()

	toolUse.SK = formatSortKey(next)
	toolUse.CreatedAt = now
	toolUse.TokenCount = outputTokens
	toolUse.ThinkingBudget = thinkingBudget

	toolResult.SK = formatSortKey(next + 1)
	toolResult.CreatedAt = now

	err = s.kv.TransactPut(ctx,
		kv.Put{PK: workerID, SK: toolUse.SK, Item: toolUse},
		kv.Put{PK: workerID, SK: toolResult.SK, Item: toolResult},
	)
	if err != nil {
		return [2]string{}, fmt.Errorf("messages: append pair %s: %w", workerID, err)
	}
	return [2]string{toolUse.SK, toolResult.SK}, nil
}

// List returns all items for the session, oldest first.
func (s *Store) List(ctx context.Context, workerID string) ([]models.MessageItem, error) {
	var items []models.MessageItem
	if err := s.kv.Query(ctx, kv.Query{PK: workerID}, &items); err != nil {
		return nil, fmt.Errorf("messages: list %s: %w", workerID, err)
	}
	return items, nil
}

// UpdateTokenCount overwrites the tokenCount field of one item.
func (s *Store) UpdateTokenCount(ctx context.Context, workerID, sk string, n int64) error {
	if err := s.kv.Update(ctx, workerID, sk, map[string]any{"tokenCount": n}); err != nil {
		return fmt.Errorf("messages: update token count %s/%s: %w", workerID, sk, err)
	}
	return nil
}

// AttributeBilledInput reconciles the provider's billed input token count
// against the per-item counts already recorded, attributing the difference to
// the last user-role item so later truncation decisions honor real billed
// tokens. The delta may be negative when reasoning blocks from a prior turn
// were dropped. Failures are logged, never fatal.
func (s *Store) AttributeBilledInput(ctx context.Context, workerID string, items []models.MessageItem, billedInput int64) {
	var recorded int64
	lastUser := -1
	for i := range items {
		recorded += items[i].TokenCount
		if items[i].Role == models.RoleUser {
			lastUser = i
		}
	}
	if lastUser < 0 {
		return
	}
	delta := billedInput - recorded
	if delta == 0 {
		return
	}
	item := &items[lastUser]
	item.TokenCount += delta
	if err := s.UpdateTokenCount(ctx, workerID, item.SK, item.TokenCount); err != nil {
		s.logger.Warn("failed to reconcile billed input tokens",
			"workerId", workerID, "sk", item.SK, "error", err)
	}
}

func (s *Store) nextSequence(ctx context.Context, workerID string) (int64, error) {
	var last []models.MessageItem
	err := s.kv.Query(ctx, kv.Query{PK: workerID, Reverse: true, Limit: 1}, &last)
	if err != nil {
		return 0, fmt.Errorf("messages: next sequence %s: %w", workerID, err)
	}
	if len(last) == 0 {
		return 0, nil
	}
	prev, err := strconv.ParseInt(last[0].SK, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("messages: malformed sort key %q: %w", last[0].SK, err)
	}
	return prev + 1, nil
}

func formatSortKey(n int64) string {
	return fmt.Sprintf("%0*d", sortKeyWidth, n)
}
