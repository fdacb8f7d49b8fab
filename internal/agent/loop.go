// Package agent drives one tool-using LLM conversation to completion: it
// builds the call window, invokes the model with retry, dispatches tool
// calls, persists every exchange, and reports progress on the event bus.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/remoteswe/worker/internal/compaction"
	"github.com/remoteswe/worker/internal/config"
	"github.com/remoteswe/worker/internal/events"
	"github.com/remoteswe/worker/internal/ledger"
	"github.com/remoteswe/worker/internal/llm"
	"github.com/remoteswe/worker/internal/mcp"
	"github.com/remoteswe/worker/internal/messages"
	"github.com/remoteswe/worker/internal/observability"
	"github.com/remoteswe/worker/internal/retry"
	"github.com/remoteswe/worker/internal/sessions"
	"github.com/remoteswe/worker/internal/tools"
	"github.com/remoteswe/worker/pkg/models"
)

const (
	// maxTokenEscalations bounds output-budget doubling before giving up.
	maxTokenEscalations = 5

	// throttleMaxAttempts bounds retries for throttling and budget bumps.
	throttleMaxAttempts = 100

	// ProgressEchoInterval is how long the agent may stay silent before
	// renderers force a progress echo.
	ProgressEchoInterval = 300 * time.Second

	// placeholderReply stands in for a response with no content.
	placeholderReply = "(no response)"

	// turnFailureMessage is surfaced to the user when a turn dies on an
	// unrecoverable error.
	turnFailureMessage = "Sorry, an error occurred while processing the request. Please try again."
)

// ErrCancelled reports a cooperative cancellation. The turn exits cleanly:
// nothing partial is appended and the session status is left as working so
// the next action does not race.
var ErrCancelled = errors.New("agent: turn cancelled")

// Loop is the per-worker agent turn loop. One loop runs per session at a
// time; that exclusivity is enforced by the runtime host.
type Loop struct {
	messages *messages.Store
	sessions *sessions.Store
	ledger   *ledger.Ledger
	client   llm.Converser
	registry *tools.Registry
	mcp      *mcp.Router
	events   events.Publisher
	prefs    *config.Preferences
	logger   *slog.Logger
	metrics  *observability.Metrics

	retryConfig retry.Config

	mu              sync.Mutex
	cancelCallbacks []func()
	cancelNotified  bool
}

// Deps wires the loop's collaborators.
type Deps struct {
	Messages    *messages.Store
	Sessions    *sessions.Store
	Ledger      *ledger.Ledger
	Client      llm.Converser
	Registry    *tools.Registry
	MCP         *mcp.Router
	Events      events.Publisher
	Preferences *config.Preferences
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// NewLoop creates a turn loop over its collaborators.
func NewLoop(deps Deps) *Loop {
	prefs := deps.Preferences
	if prefs == nil {
		prefs = &config.Preferences{}
	}
	return &Loop{
		retryConfig: retry.Uniform(throttleMaxAttempts, time.Second, 5*time.Second),
		messages:    deps.Messages,
		sessions:    deps.Sessions,
		ledger:      deps.Ledger,
		client:      deps.Client,
		registry:    deps.Registry,
		mcp:         deps.MCP,
		events:      deps.Events,
		prefs:       prefs,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// OnCancel registers a callback invoked when a turn exits on cancellation.
func (l *Loop) OnCancel(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelCallbacks = append(l.cancelCallbacks, fn)
}

// OnMessageReceived runs one turn for a session whose latest item is a user
// message. Cancellation is observed through ctx.
func (l *Loop) OnMessageReceived(ctx context.Context, workerID string) error {
	return l.run(ctx, workerID)
}

// Resume restarts a turn after a worker restart. When the last item is a
// userMessage or toolResult there is an unanswered inbound, so one turn
// runs; otherwise the session is already settled and this is a no-op.
func (l *Loop) Resume(ctx context.Context, workerID string) error {
	history, err := l.messages.List(ctx, workerID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return nil
	}
	switch history[len(history)-1].MessageType {
	case models.MessageTypeUser, models.MessageTypeToolResult:
		return l.run(ctx, workerID)
	}
	return nil
}

// run executes one turn and tells the user when it dies on an error that is
// neither recovered nor a cancellation.
func (l *Loop) run(ctx context.Context, workerID string) error {
	err := l.runTurn(ctx, workerID)
	if err != nil && !errors.Is(err, ErrCancelled) {
		l.publish(ctx, workerID, models.NewMessageEvent(models.RoleAssistant, turnFailureMessage))
	}
	return err
}

func (l *Loop) runTurn(ctx context.Context, workerID string) error {
	if err := l.sessions.UpdateStatus(ctx, workerID, models.StatusWorking); err != nil {
		return err
	}
	session, err := l.sessions.Get(ctx, workerID)
	if err != nil {
		return err
	}
	history, err := l.messages.List(ctx, workerID)
	if err != nil {
		return err
	}

	agentDef := l.prefs.CustomAgent(session.CustomAgentID)
	systemPrompt := l.buildSystemPrompt(ctx, workerID, agentDef)
	transcript := newTranscript(history)

	for {
		if err := l.checkCancel(ctx); err != nil {
			return err
		}

		window := compaction.MiddleOut(history, compaction.DefaultTokenCap)
		if window.Truncated {
			l.metrics.ContextTruncations.Inc()
			l.logger.Info("truncated context window",
				"workerId", workerID, "kept", len(window.Items), "tokens", window.TotalTokens)
		}
		plan := compaction.PlanCachePoints(len(window.Items), window.Truncated)
		items := compaction.ApplyCachePlan(window.Items, plan)

		req := &llm.Request{
			Messages: requestMessages(items),
			System:   []llm.SystemBlock{{Text: systemPrompt, CachePoint: true}},
		}
		if specs := l.toolSpecs(agentDef); len(specs) > 0 {
			specs[len(specs)-1].CachePoint = true
			req.Tools = specs
		}

		result, err := l.invoke(ctx, workerID, session, req)
		if err != nil {
			if cancelErr := l.checkCancel(ctx); cancelErr != nil {
				return cancelErr
			}
			l.metrics.TurnCounter.WithLabelValues("error").Inc()
			return err
		}
		if err := l.checkCancel(ctx); err != nil {
			return err
		}
		resp := result.Response

		// Reconcile billed input tokens against the recorded counts so
		// truncation decisions track what the provider actually charged.
		l.messages.AttributeBilledInput(ctx, workerID, history, resp.Usage.InputTokens)

		if len(resp.Content) == 0 {
			placeholder := models.NewTextItem(models.RoleAssistant, models.MessageTypeAssistantResponse, placeholderReply)
			placeholder.TokenCount = resp.Usage.OutputTokens
			return l.finalize(ctx, workerID, session, transcript, placeholder)
		}

		if resp.StopReason == llm.StopToolUse && len(toolUseBlocks(resp.Content)) > 0 {
			appended, err := l.dispatchTools(ctx, workerID, resp, result.ThinkingBudget, transcript, &systemPrompt, agentDef)
			if err != nil {
				if errors.Is(err, ErrCancelled) {
					return err
				}
				l.metrics.TurnCounter.WithLabelValues("error").Inc()
				return err
			}
			history = append(history, appended...)
			continue
		}

		assistant := &models.MessageItem{
			Role:           models.RoleAssistant,
			MessageType:    models.MessageTypeAssistantResponse,
			Content:        resp.Content,
			TokenCount:     resp.Usage.OutputTokens,
			ThinkingBudget: result.ThinkingBudget,
		}
		return l.finalize(ctx, workerID, session, transcript, assistant)
	}
}

// invoke calls the LLM client under the retry wrapper. Throttling retries
// with the account already rotated; a max_tokens stop retries with a doubled
// output budget, up to maxTokenEscalations; anything else aborts.
func (l *Loop) invoke(ctx context.Context, workerID string, session *models.Session, req *llm.Request) (*llm.Result, error) {
	candidates := l.candidateModels(session)
	maxTokensRetries := 0
	result, res := retry.DoWithValue(ctx, l.retryConfig, func(int) (*llm.Result, error) {
		r, err := l.client.Converse(ctx, workerID, candidates, req, maxTokensRetries)
		if err != nil {
			if errors.Is(err, llm.ErrThrottled) {
				return nil, err
			}
			return nil, retry.Permanent(err)
		}
		if r.Response.StopReason == llm.StopMaxTokens {
			maxTokensRetries++
			if maxTokensRetries > maxTokenEscalations {
				return nil, retry.Permanent(fmt.Errorf("agent: output budget exhausted after %d escalations: %w",
					maxTokenEscalations, llm.ErrMaxTokensExceeded))
			}
			l.logger.Info("response hit output cap, escalating budget",
				"workerId", workerID, "retryCount", maxTokensRetries)
			return nil, llm.ErrMaxTokensExceeded
		}
		return r, nil
	})
	return result, res.Err
}

// dispatchTools executes every toolUse block of the assistant message in
// order, persists the (toolUse, toolResult) pair atomically, and emits one
// toolUse and one toolResult event per tool.
func (l *Loop) dispatchTools(ctx context.Context, workerID string, resp *llm.Response, thinkingBudget int, transcript *transcript, systemPrompt *string, agentDef *config.CustomAgent) ([]models.MessageItem, error) {
	uses := toolUseBlocks(resp.Content)
	reasoning := reasoningText(resp.Content)

	resultContent := make([]models.ContentBlock, 0, len(uses))
	outputs := make([]string, 0, len(uses))
	for _, use := range uses {
		if err := l.checkCancel(ctx); err != nil {
			// Exit before the pair is committed; no orphan toolUse.
			return nil, err
		}
		parts, status := l.executeTool(ctx, workerID, use, agentDef)
		resultContent = append(resultContent, models.ContentBlock{ToolResult: &models.ToolResultBlock{
			ToolUseID: use.ToolUseID,
			Content:   parts,
			Status:    status,
		}})
		outputs = append(outputs, textOfParts(parts))
	}

	toolUseItem := &models.MessageItem{
		Role:        models.RoleAssistant,
		MessageType: models.MessageTypeToolUse,
		Content:     resp.Content,
	}
	toolResultItem := &models.MessageItem{
		Role:        models.RoleUser,
		MessageType: models.MessageTypeToolResult,
		Content:     resultContent,
	}
	if _, err := l.messages.AppendPair(ctx, workerID, toolUseItem, toolResultItem, resp.Usage.OutputTokens, thinkingBudget); err != nil {
		return nil, err
	}

	for i, use := range uses {
		input, _ := json.Marshal(use.Input)
		event := models.AgentEvent{
			Type:           models.EventToolUse,
			ToolName:       use.Name,
			ToolUseID:      use.ToolUseID,
			Input:          string(input),
			ThinkingBudget: thinkingBudget,
		}
		if i == 0 {
			event.ReasoningText = reasoning
		}
		l.publish(ctx, workerID, event)
		l.publish(ctx, workerID, models.AgentEvent{
			Type:      models.EventToolResult,
			ToolName:  use.Name,
			ToolUseID: use.ToolUseID,
			Output:    outputs[i],
		})
	}

	// Tool post-effects.
	for _, use := range uses {
		switch use.Name {
		case "reportProgress":
			if progress, ok := use.Input["progress"].(string); ok {
				transcript.AddProgress(progress)
			}
		case "cloneRepository":
			// The clone may have brought a knowledge file along.
			*systemPrompt = l.buildSystemPrompt(ctx, workerID, agentDef)
		}
	}

	return []models.MessageItem{*toolUseItem, *toolResultItem}, nil
}

// executeTool runs one tool call, MCP servers first, then the built-in
// catalog. Failures of any kind become an error-status result so the turn
// continues.
func (l *Loop) executeTool(ctx context.Context, workerID string, use models.ToolUseBlock, agentDef *config.CustomAgent) ([]models.ToolResultContent, models.ToolResultStatus) {
	start := time.Now()
	parts, err := l.runTool(ctx, workerID, use, agentDef)
	status := "success"
	if err != nil {
		status = "error"
	}
	l.metrics.ToolExecutionCounter.WithLabelValues(use.Name, status).Inc()
	l.metrics.ToolExecutionDuration.WithLabelValues(use.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		l.logger.Warn("tool execution failed", "workerId", workerID, "tool", use.Name, "error", err)
		message := fmt.Sprintf("Error occurred when using tool %s: %s", use.Name, err.Error())
		return []models.ToolResultContent{{Text: &models.TextBlock{Text: message}}}, models.ToolResultError
	}
	return parts, models.ToolResultSuccess
}

func (l *Loop) runTool(ctx context.Context, workerID string, use models.ToolUseBlock, agentDef *config.CustomAgent) ([]models.ToolResultContent, error) {
	if l.mcp != nil && l.mcp.Serves(use.Name) {
		return l.mcp.Dispatch(ctx, use.Name, use.Input)
	}
	inv := tools.Invocation{ToolUseID: use.ToolUseID, WorkerID: workerID, Preferences: l.prefs}
	result, err := l.registry.Execute(ctx, use.Name, use.Input, inv)
	if err != nil {
		return nil, err
	}
	return result.Blocks(), nil
}

// finalize persists the closing assistant message, emits the reply, maybe
// titles the session, rolls up cost, and parks the session back at pending.
func (l *Loop) finalize(ctx context.Context, workerID string, session *models.Session, transcript *transcript, assistant *models.MessageItem) error {
	if _, err := l.messages.Append(ctx, workerID, assistant); err != nil {
		return err
	}

	visible := stripThinkingTags(assistant.TextContent())
	if visible == "" {
		visible = placeholderReply
	}
	transcript.AddAssistant(visible)

	if session.Title == "" && !transcript.Empty() {
		title, err := l.sessions.GenerateTitle(ctx, workerID, transcript.String(), l.client)
		if err != nil {
			l.logger.Warn("title generation failed", "workerId", workerID, "error", err)
		} else {
			l.publish(ctx, workerID, models.AgentEvent{Type: models.EventSessionTitleUpdate, NewTitle: title})
		}
	}

	l.publish(ctx, workerID, models.NewMessageEvent(models.RoleAssistant, visible))

	if cost, err := l.ledger.SessionCost(ctx, workerID); err != nil {
		l.logger.Warn("cost rollup failed", "workerId", workerID, "error", err)
	} else if err := l.sessions.UpdateCost(ctx, workerID, cost); err != nil {
		l.logger.Warn("cost update failed", "workerId", workerID, "error", err)
	}

	if err := l.sessions.UpdateStatus(ctx, workerID, models.StatusPending); err != nil {
		return err
	}
	l.metrics.TurnCounter.WithLabelValues("finalized").Inc()
	return nil
}

// checkCancel observes cooperative cancellation. Callbacks fire once per
// loop even if several suspension points notice the cancel.
func (l *Loop) checkCancel(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	l.mu.Lock()
	notified := l.cancelNotified
	l.cancelNotified = true
	callbacks := l.cancelCallbacks
	l.mu.Unlock()
	if !notified {
		for _, fn := range callbacks {
			fn()
		}
		l.metrics.TurnCounter.WithLabelValues("cancelled").Inc()
	}
	return ErrCancelled
}

func (l *Loop) publish(ctx context.Context, workerID string, event models.AgentEvent) {
	if err := l.events.Publish(ctx, workerID, event); err != nil {
		l.logger.Warn("event publish failed", "workerId", workerID, "type", event.Type, "error", err)
	}
}

// candidateModels resolves the model candidates for this session: the
// session override, then the deployment default, then the client's default.
func (l *Loop) candidateModels(session *models.Session) []string {
	if session.ModelOverride != "" {
		return []string{session.ModelOverride}
	}
	if len(l.prefs.DefaultModels) > 0 {
		return l.prefs.DefaultModels
	}
	return nil
}

// toolSpecs assembles the offered catalog: the custom agent's allowed
// built-ins plus the always-required tools, then every MCP tool.
func (l *Loop) toolSpecs(agentDef *config.CustomAgent) []llm.ToolSpec {
	names := make([]string, 0, len(tools.RequiredToolNames))
	seen := map[string]bool{}
	if agentDef != nil {
		for _, name := range agentDef.Tools {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	for _, name := range tools.RequiredToolNames {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	specs := l.registry.Specs(names)
	if l.mcp != nil {
		specs = append(specs, l.mcp.Specs()...)
	}
	return specs
}

func requestMessages(items []models.MessageItem) []llm.Message {
	out := make([]llm.Message, 0, len(items))
	for _, item := range items {
		out = append(out, llm.Message{Role: item.Role, Content: item.Content})
	}
	return out
}

func toolUseBlocks(content []models.ContentBlock) []models.ToolUseBlock {
	var uses []models.ToolUseBlock
	for _, block := range content {
		if block.ToolUse != nil {
			uses = append(uses, *block.ToolUse)
		}
	}
	return uses
}

func reasoningText(content []models.ContentBlock) string {
	for _, block := range content {
		if block.Reasoning != nil {
			return block.Reasoning.Text
		}
	}
	return ""
}

func textOfParts(parts []models.ToolResultContent) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Text != nil {
			b.WriteString(part.Text.Text)
		}
	}
	return b.String()
}

var thinkingTagPattern = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)

// stripThinkingTags removes inline thinking spans from the visible reply.
func stripThinkingTags(text string) string {
	return strings.TrimSpace(thinkingTagPattern.ReplaceAllString(text, ""))
}
