package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/remoteswe/worker/internal/config"
	"github.com/remoteswe/worker/internal/events"
	"github.com/remoteswe/worker/internal/kv"
	"github.com/remoteswe/worker/internal/ledger"
	"github.com/remoteswe/worker/internal/llm"
	"github.com/remoteswe/worker/internal/messages"
	"github.com/remoteswe/worker/internal/observability"
	"github.com/remoteswe/worker/internal/retry"
	"github.com/remoteswe/worker/internal/sessions"
	"github.com/remoteswe/worker/internal/tools"
	"github.com/remoteswe/worker/pkg/models"
)

type converseCall struct {
	candidates []string
	req        *llm.Request
	retryCount int
}

// scriptedConverser replays a fixed sequence of results and errors, and
// records every call it receives.
type scriptedConverser struct {
	mu      sync.Mutex
	script  []func() (*llm.Result, error)
	calls   []converseCall
	onCall  func(n int)
}

func (c *scriptedConverser) Converse(_ context.Context, _ string, candidates []string, req *llm.Request, retryCount int) (*llm.Result, error) {
	c.mu.Lock()
	n := len(c.calls)
	c.calls = append(c.calls, converseCall{candidates: candidates, req: req, retryCount: retryCount})
	if n >= len(c.script) {
		c.mu.Unlock()
		return nil, fmt.Errorf("unexpected call %d", n)
	}
	step := c.script[n]
	hook := c.onCall
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return step()
}

func textResult(text string) func() (*llm.Result, error) {
	return func() (*llm.Result, error) {
		return &llm.Result{Response: &llm.Response{
			Content:    []models.ContentBlock{{Text: &models.TextBlock{Text: text}}},
			StopReason: llm.StopEndTurn,
			Usage:      models.Usage{InputTokens: 50, OutputTokens: 20},
		}}, nil
	}
}

func toolUseResult(name, toolUseID string, input map[string]any) func() (*llm.Result, error) {
	return func() (*llm.Result, error) {
		return &llm.Result{Response: &llm.Response{
			Content: []models.ContentBlock{
				{ToolUse: &models.ToolUseBlock{ToolUseID: toolUseID, Name: name, Input: input}},
			},
			StopReason: llm.StopToolUse,
			Usage:      models.Usage{InputTokens: 80, OutputTokens: 40},
		}}, nil
	}
}

func maxTokensResult() func() (*llm.Result, error) {
	return func() (*llm.Result, error) {
		return &llm.Result{Response: &llm.Response{
			Content:    []models.ContentBlock{{Text: &models.TextBlock{Text: "truncated"}}},
			StopReason: llm.StopMaxTokens,
			Usage:      models.Usage{InputTokens: 50, OutputTokens: 8192},
		}}, nil
	}
}

func errResult(err error) func() (*llm.Result, error) {
	return func() (*llm.Result, error) { return nil, err }
}

type testHarness struct {
	loop     *Loop
	sessions *sessions.Store
	messages *messages.Store
	recorder *events.Recorder
}

func newTestLoop(t *testing.T, conv llm.Converser, prefs *config.Preferences) *testHarness {
	t.Helper()
	store := kv.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessionStore := sessions.NewStore(store, logger)
	messageStore := messages.NewStore(store, logger)
	recorder := events.NewRecorder()

	loop := NewLoop(Deps{
		Messages:    messageStore,
		Sessions:    sessionStore,
		Ledger:      ledger.New(store, logger),
		Client:      conv,
		Registry:    tools.NewBuiltinRegistry(sessionStore),
		Events:      recorder,
		Preferences: prefs,
		Logger:      logger,
		Metrics:     observability.NewMetricsWith(prometheus.NewRegistry()),
	})
	// Keep retry sleeps out of test wall time.
	loop.retryConfig = retry.Uniform(throttleMaxAttempts, time.Millisecond, 2*time.Millisecond)
	return &testHarness{loop: loop, sessions: sessionStore, messages: messageStore, recorder: recorder}
}

func seedSession(t *testing.T, h *testHarness, workerID, title, userText string) {
	t.Helper()
	ctx := context.Background()
	if err := h.sessions.Create(ctx, &models.Session{WorkerID: workerID, AgentStatus: models.StatusPending, Title: title}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if userText != "" {
		if _, err := h.messages.Append(ctx, workerID, models.NewTextItem(models.RoleUser, models.MessageTypeUser, userText)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
}

func TestSimpleTurn(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){
		textResult("<thinking>scratch work</thinking>The bug is in the parser."),
	}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "why does parsing fail?")

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}

	items, err := h.messages.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("history has %d items, want 2", len(items))
	}
	last := items[1]
	if last.MessageType != models.MessageTypeAssistantResponse || last.Role != models.RoleAssistant {
		t.Errorf("final item = %s/%s", last.Role, last.MessageType)
	}
	if last.TokenCount != 20 {
		t.Errorf("final item tokenCount = %d, want 20", last.TokenCount)
	}

	session, err := h.sessions.Get(ctx, "w1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if session.AgentStatus != models.StatusPending {
		t.Errorf("status = %s, want pending", session.AgentStatus)
	}

	published := h.recorder.Events()
	if len(published) != 1 {
		t.Fatalf("got %d events, want 1", len(published))
	}
	if published[0].Type != models.EventMessage {
		t.Errorf("event type = %s", published[0].Type)
	}
	if published[0].Text != "The bug is in the parser." {
		t.Errorf("visible text = %q, thinking span should be stripped", published[0].Text)
	}
}

func TestToolRoundTrip(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){
		toolUseResult("reportProgress", "use-1", map[string]any{"progress": "found the failing test"}),
		textResult("Fixed it."),
	}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "fix the failing test")

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}

	items, err := h.messages.List(ctx, "w1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(items) != 4 {
		t.Fatalf("history has %d items, want user, toolUse, toolResult, assistant", len(items))
	}
	if items[1].MessageType != models.MessageTypeToolUse || items[2].MessageType != models.MessageTypeToolResult {
		t.Fatalf("middle items = %s, %s", items[1].MessageType, items[2].MessageType)
	}
	result := items[2].Content[0].ToolResult
	if result == nil || result.ToolUseID != "use-1" {
		t.Fatalf("toolResult = %+v, want reference to use-1", items[2].Content)
	}
	if result.Status != models.ToolResultSuccess {
		t.Errorf("toolResult status = %s", result.Status)
	}

	// The second call must include the tool exchange.
	if len(conv.calls) != 2 {
		t.Fatalf("converse called %d times, want 2", len(conv.calls))
	}
	if got := len(conv.calls[1].req.Messages); got != 3 {
		t.Errorf("second request has %d messages, want 3", got)
	}

	// reportProgress touches the last-report marker.
	report, err := h.sessions.GetLastReport(ctx, "w1")
	if err != nil || report == nil {
		t.Errorf("last report = %+v, err = %v", report, err)
	}

	types := eventTypes(h.recorder.Events())
	want := []models.EventType{models.EventToolUse, models.EventToolResult, models.EventMessage}
	if !equalTypes(types, want) {
		t.Errorf("event order = %v, want %v", types, want)
	}
}

func TestToolErrorBecomesErrorResult(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){
		toolUseResult("noSuchTool", "use-1", map[string]any{}),
		textResult("Recovered."),
	}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "do the thing")

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}

	items, _ := h.messages.List(ctx, "w1")
	result := items[2].Content[0].ToolResult
	if result.Status != models.ToolResultError {
		t.Fatalf("status = %s, want error", result.Status)
	}
	text := result.Content[0].Text.Text
	if !strings.HasPrefix(text, "Error occurred when using tool noSuchTool: ") {
		t.Errorf("error text = %q", text)
	}
}

func TestThrottleRetriesThenSucceeds(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){
		errResult(llm.ErrThrottled),
		textResult("Done."),
	}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "hello")

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}
	if len(conv.calls) != 2 {
		t.Errorf("converse called %d times, want retry then success", len(conv.calls))
	}
}

func TestPermanentErrorAborts(t *testing.T) {
	boom := errors.New("model exploded")
	conv := &scriptedConverser{script: []func() (*llm.Result, error){errResult(boom)}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "hello")

	err := h.loop.OnMessageReceived(ctx, "w1")
	if !errors.Is(err, boom) {
		t.Fatalf("OnMessageReceived() error = %v, want wrapped original", err)
	}
	if len(conv.calls) != 1 {
		t.Errorf("converse called %d times, want no retry", len(conv.calls))
	}

	// The failure is surfaced to the user.
	published := h.recorder.Events()
	if len(published) != 1 || published[0].Type != models.EventMessage {
		t.Fatalf("events = %+v, want one failure message", published)
	}
	if !strings.Contains(published[0].Text, "error occurred") {
		t.Errorf("failure text = %q", published[0].Text)
	}
}

func TestMaxTokensEscalation(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){
		maxTokensResult(),
		maxTokensResult(),
		textResult("Finally complete."),
	}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "write a long report")

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}

	var retryCounts []int
	for _, call := range conv.calls {
		retryCounts = append(retryCounts, call.retryCount)
	}
	want := []int{0, 1, 2}
	if len(retryCounts) != len(want) {
		t.Fatalf("retryCounts = %v, want %v", retryCounts, want)
	}
	for i := range want {
		if retryCounts[i] != want[i] {
			t.Fatalf("retryCounts = %v, want %v", retryCounts, want)
		}
	}
}

func TestMaxTokensGivesUpAfterEscalationCap(t *testing.T) {
	var script []func() (*llm.Result, error)
	for i := 0; i < maxTokenEscalations+1; i++ {
		script = append(script, maxTokensResult())
	}
	conv := &scriptedConverser{script: script}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "write everything")

	err := h.loop.OnMessageReceived(ctx, "w1")
	if !errors.Is(err, llm.ErrMaxTokensExceeded) {
		t.Fatalf("OnMessageReceived() error = %v, want budget exhaustion", err)
	}
	if len(conv.calls) != maxTokenEscalations+1 {
		t.Errorf("converse called %d times, want %d", len(conv.calls), maxTokenEscalations+1)
	}
}

func TestLargeHistoryIsTruncated(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){textResult("Summarized.")}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "")

	// 500 items of ~1000 tokens each, well past the window cap.
	for i := 0; i < 500; i++ {
		item := models.NewTextItem(models.RoleUser, models.MessageTypeUser, fmt.Sprintf("message number %d", i))
		item.TokenCount = 1000
		if _, err := h.messages.Append(ctx, "w1", item); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}

	sent := conv.calls[0].req.Messages
	if len(sent) >= 500 {
		t.Fatalf("request carries %d messages, want truncated window", len(sent))
	}
	if !strings.Contains(sent[0].Content[0].Text.Text, "message number 0") {
		t.Errorf("earliest message dropped; first sent = %q", sent[0].Content[0].Text.Text)
	}
	lastText := ""
	for _, block := range sent[len(sent)-1].Content {
		if block.Text != nil {
			lastText = block.Text.Text
		}
	}
	if !strings.Contains(lastText, "message number 499") {
		t.Errorf("latest message dropped; last sent = %q", lastText)
	}
}

func TestCancellationMidTurn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conv := &scriptedConverser{
		script: []func() (*llm.Result, error){
			toolUseResult("reportProgress", "use-1", map[string]any{"progress": "working"}),
		},
		onCall: func(int) { cancel() },
	}
	h := newTestLoop(t, conv, nil)
	seedSession(t, h, "w1", "existing title", "long task")

	callbackCount := 0
	h.loop.OnCancel(func() { callbackCount++ })

	err := h.loop.OnMessageReceived(ctx, "w1")
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("OnMessageReceived() error = %v, want ErrCancelled", err)
	}
	if callbackCount != 1 {
		t.Errorf("cancel callback invoked %d times, want exactly once", callbackCount)
	}

	// No partial tool exchange is persisted and the status is left alone.
	items, _ := h.messages.List(context.Background(), "w1")
	if len(items) != 1 {
		t.Errorf("history has %d items after cancel, want only the user message", len(items))
	}
	session, _ := h.sessions.Get(context.Background(), "w1")
	if session.AgentStatus != models.StatusWorking {
		t.Errorf("status = %s, want working (not flipped to pending)", session.AgentStatus)
	}
}

func TestEmptyResponseGetsPlaceholder(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){
		func() (*llm.Result, error) {
			return &llm.Result{Response: &llm.Response{
				StopReason: llm.StopEndTurn,
				Usage:      models.Usage{InputTokens: 10, OutputTokens: 0},
			}}, nil
		},
	}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "hello?")

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}
	items, _ := h.messages.List(ctx, "w1")
	if got := items[len(items)-1].TextContent(); got != placeholderReply {
		t.Errorf("final text = %q, want placeholder", got)
	}
}

func TestTitleGeneratedOnFirstTurn(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){
		textResult("The answer is 42."),
		textResult("Deep thought query"), // title model call
	}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "", "what is the answer?")

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}

	session, _ := h.sessions.Get(ctx, "w1")
	if session.Title == "" {
		t.Fatal("title not set")
	}

	types := eventTypes(h.recorder.Events())
	want := []models.EventType{models.EventSessionTitleUpdate, models.EventMessage}
	if !equalTypes(types, want) {
		t.Errorf("event order = %v, want title before final message", types)
	}

	// The title call goes to the dedicated title model.
	titleCall := conv.calls[1]
	if len(titleCall.candidates) != 1 || titleCall.candidates[0] != llm.TitleModel {
		t.Errorf("title candidates = %v", titleCall.candidates)
	}
}

func TestResume(t *testing.T) {
	tests := []struct {
		name      string
		lastType  models.MessageType
		lastRole  models.Role
		wantCalls int
	}{
		{"pending user message", models.MessageTypeUser, models.RoleUser, 1},
		{"pending tool result", models.MessageTypeToolResult, models.RoleUser, 1},
		{"settled assistant response", models.MessageTypeAssistantResponse, models.RoleAssistant, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := &scriptedConverser{script: []func() (*llm.Result, error){textResult("Resumed.")}}
			h := newTestLoop(t, conv, nil)
			ctx := context.Background()
			seedSession(t, h, "w1", "existing title", "")
			if _, err := h.messages.Append(ctx, "w1", models.NewTextItem(tt.lastRole, tt.lastType, "payload")); err != nil {
				t.Fatalf("Append() error = %v", err)
			}

			if err := h.loop.Resume(ctx, "w1"); err != nil {
				t.Fatalf("Resume() error = %v", err)
			}
			if len(conv.calls) != tt.wantCalls {
				t.Errorf("converse called %d times, want %d", len(conv.calls), tt.wantCalls)
			}
		})
	}
}

func TestModelCandidatesFollowOverride(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){textResult("ok")}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "hi")
	if err := h.sessions.Update(ctx, "w1", map[string]any{"modelOverride": "opus"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}
	if got := conv.calls[0].candidates; len(got) != 1 || got[0] != "opus" {
		t.Errorf("candidates = %v, want session override", got)
	}
}

func TestRequestCarriesSystemAndTools(t *testing.T) {
	conv := &scriptedConverser{script: []func() (*llm.Result, error){textResult("ok")}}
	h := newTestLoop(t, conv, nil)
	ctx := context.Background()
	seedSession(t, h, "w1", "existing title", "hi")

	if err := h.loop.OnMessageReceived(ctx, "w1"); err != nil {
		t.Fatalf("OnMessageReceived() error = %v", err)
	}

	req := conv.calls[0].req
	if len(req.System) != 1 || !req.System[0].CachePoint {
		t.Fatalf("system blocks = %+v", req.System)
	}
	if len(req.Tools) == 0 {
		t.Fatal("no tools offered")
	}
	if !req.Tools[len(req.Tools)-1].CachePoint {
		t.Error("last tool spec should carry the cache point")
	}
	for _, spec := range req.Tools[:len(req.Tools)-1] {
		if spec.CachePoint {
			t.Errorf("tool %s unexpectedly carries a cache point", spec.Name)
		}
	}
}

func eventTypes(list []models.AgentEvent) []models.EventType {
	out := make([]models.EventType, 0, len(list))
	for _, e := range list {
		out = append(out, e.Type)
	}
	return out
}

func equalTypes(got, want []models.EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestStripThinkingTags(t *testing.T) {
	tests := []struct{ in, want string }{
		{"<thinking>a</thinking>visible", "visible"},
		{"before <thinking>x\ny</thinking> after", "before  after"},
		{"no tags here", "no tags here"},
		{"<thinking>only</thinking>", ""},
	}
	for _, tt := range tests {
		if got := stripThinkingTags(tt.in); got != tt.want {
			t.Errorf("stripThinkingTags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
