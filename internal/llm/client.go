package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/remoteswe/worker/internal/ledger"
	"github.com/remoteswe/worker/internal/observability"
)

// Provider is one LLM back end behind the neutral request shape.
type Provider interface {
	Name() string
	Converse(ctx context.Context, modelID string, req *Request, reasoning reasoningConfig) (*Response, error)
}

// Converser is the client surface consumed by the loop and the title path.
type Converser interface {
	Converse(ctx context.Context, workerID string, candidateModels []string, req *Request, maxTokensRetryCount int) (*Result, error)
}

// Client normalizes requests, dispatches to the configured provider, rotates
// accounts on throttle, and records billed tokens in the ledger.
type Client struct {
	provider    Provider
	pool        *AccountPool
	criProfiles []CRIProfile
	ledger      *ledger.Ledger
	logger      *slog.Logger
	metrics     *observability.Metrics
	pick        func(n int) int
}

// Options configures optional client behavior.
type Options struct {
	// Pool enables throttle-driven account rotation (Bedrock only).
	Pool *AccountPool
	// CRIProfiles overrides the default regional inference profile set.
	CRIProfiles []CRIProfile
}

// DefaultCRIProfiles is the regional fleet set candidates are drawn from
// when no override is configured. A pick the chosen model does not support
// falls back to the bare model id.
var DefaultCRIProfiles = []CRIProfile{CRIUS, CRIEU, CRIAPAC}

// NewClient creates a client over the given provider.
func NewClient(provider Provider, lgr *ledger.Ledger, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Client {
	profiles := opts.CRIProfiles
	if len(profiles) == 0 {
		profiles = DefaultCRIProfiles
	}
	return &Client{
		provider:    provider,
		pool:        opts.Pool,
		criProfiles: profiles,
		ledger:      lgr,
		logger:      logger,
		metrics:     metrics,
		pick:        rand.Intn,
	}
}

// Converse picks a candidate model, normalizes the request for it, and
// issues one provider call. On throttle the account index is advanced and
// ErrThrottled is returned so the caller's retry wrapper can go again. On
// success billed tokens are upserted into the ledger; ledger failures are
// logged, never surfaced.
func (c *Client) Converse(ctx context.Context, workerID string, candidateModels []string, req *Request, maxTokensRetryCount int) (*Result, error) {
	if len(candidateModels) == 0 {
		candidateModels = DefaultModels
	}
	name := candidateModels[c.pick(len(candidateModels))]
	cap, ok := Resolve(name)
	if !ok {
		return nil, fmt.Errorf("llm: unknown model %q", name)
	}

	modelID := cap.AnthropicModelID
	if c.provider.Name() == "bedrock" {
		profile := c.criProfiles[c.pick(len(c.criProfiles))]
		modelID = ApplyCRIProfile(cap, profile)
	}

	normalized, reasoning := normalize(req, cap, maxTokensRetryCount)

	start := time.Now()
	resp, err := c.provider.Converse(ctx, modelID, normalized, reasoning)
	c.metrics.LLMRequestDuration.WithLabelValues(c.provider.Name(), cap.ModelID).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, ErrThrottled) {
			c.metrics.LLMRequestCounter.WithLabelValues(c.provider.Name(), cap.ModelID, "throttled").Inc()
			if c.pool != nil {
				c.pool.Advance()
				c.metrics.AccountRotations.Inc()
			}
			return nil, err
		}
		c.metrics.LLMRequestCounter.WithLabelValues(c.provider.Name(), cap.ModelID, "error").Inc()
		return nil, err
	}
	c.metrics.LLMRequestCounter.WithLabelValues(c.provider.Name(), cap.ModelID, "success").Inc()
	c.metrics.RecordTokens(cap.ModelID,
		resp.Usage.InputTokens, resp.Usage.OutputTokens,
		resp.Usage.CacheReadInputTokens, resp.Usage.CacheWriteInputTokens)

	if err := c.ledger.AddUsage(ctx, workerID, modelID, resp.Usage); err != nil {
		c.logger.Warn("failed to record token usage", "workerId", workerID, "model", modelID, "error", err)
	}

	result := &Result{Response: resp}
	if reasoning.Ultra {
		result.ThinkingBudget = reasoning.BudgetTokens
	}
	return result, nil
}
