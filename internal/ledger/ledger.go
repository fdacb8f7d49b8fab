// Package ledger accumulates billed token counters per (session, model) and
// rolls them up into a USD cost on the session record.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/remoteswe/worker/internal/kv"
	"github.com/remoteswe/worker/pkg/models"
)

const tokenPKPrefix = "token-"

// Ledger tracks token usage in the shared table. Counters only grow; the
// atomic-add write path means concurrent workers never lose increments.
type Ledger struct {
	kv     kv.Store
	logger *slog.Logger
}

// New creates a ledger over the shared table.
func New(store kv.Store, logger *slog.Logger) *Ledger {
	return &Ledger{kv: store, logger: logger}
}

// AddUsage atomically increments the counters for one (session, model) pair.
func (l *Ledger) AddUsage(ctx context.Context, workerID, modelID string, usage models.Usage) error {
	add := map[string]int64{
		"inputTokens":           usage.InputTokens,
		"outputTokens":          usage.OutputTokens,
		"cacheReadInputTokens":  usage.CacheReadInputTokens,
		"cacheWriteInputTokens": usage.CacheWriteInputTokens,
	}
	if err := l.kv.Add(ctx, tokenPKPrefix+workerID, modelID, add); err != nil {
		return fmt.Errorf("ledger: add usage %s/%s: %w", workerID, modelID, err)
	}
	return nil
}

// List returns every per-model counter record for the session.
func (l *Ledger) List(ctx context.Context, workerID string) ([]models.TokenLedgerItem, error) {
	var items []models.TokenLedgerItem
	if err := l.kv.Query(ctx, kv.Query{PK: tokenPKPrefix + workerID}, &items); err != nil {
		return nil, fmt.Errorf("ledger: list %s: %w", workerID, err)
	}
	return items, nil
}

// SessionCost computes the session's USD cost from its counters and the
// price table.
func (l *Ledger) SessionCost(ctx context.Context, workerID string) (float64, error) {
	items, err := l.List(ctx, workerID)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, item := range items {
		price := PriceFor(item.ModelID)
		total += float64(item.InputTokens) / 1e6 * price.InputPerMillion
		total += float64(item.OutputTokens) / 1e6 * price.OutputPerMillion
		total += float64(item.CacheReadInputTokens) / 1e6 * price.CacheReadPerMillion
		total += float64(item.CacheWriteInputTokens) / 1e6 * price.CacheWritePerMillion
	}
	return total, nil
}

// Pricing is the USD rate per million tokens for one model family.
type Pricing struct {
	InputPerMillion      float64
	OutputPerMillion     float64
	CacheReadPerMillion  float64
	CacheWritePerMillion float64
}

// Rates by model family. Cache writes bill at 1.25x input; cache reads at
// 0.1x input.
var priceTable = map[string]Pricing{
	"opus":   {InputPerMillion: 15.0, OutputPerMillion: 75.0, CacheReadPerMillion: 1.5, CacheWritePerMillion: 18.75},
	"sonnet": {InputPerMillion: 3.0, OutputPerMillion: 15.0, CacheReadPerMillion: 0.3, CacheWritePerMillion: 3.75},
	"haiku":  {InputPerMillion: 0.8, OutputPerMillion: 4.0, CacheReadPerMillion: 0.08, CacheWritePerMillion: 1.0},
}

// PriceFor resolves pricing for a model id by family substring. Unknown
// models bill at the sonnet rate so cost stays an estimate rather than zero.
func PriceFor(modelID string) Pricing {
	id := strings.ToLower(modelID)
	for family, price := range priceTable {
		if strings.Contains(id, family) {
			return price
		}
	}
	return priceTable["sonnet"]
}
