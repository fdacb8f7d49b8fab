// Package events fans progress events out to external subscribers.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/remoteswe/worker/pkg/models"
)

// Publisher delivers one event for a session to the external bus.
type Publisher interface {
	Publish(ctx context.Context, workerID string, event models.AgentEvent) error
}

// HTTPPublisher posts events to the configured bus endpoint.
type HTTPPublisher struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPPublisher creates a publisher for the given endpoint.
func NewHTTPPublisher(endpoint string, logger *slog.Logger) *HTTPPublisher {
	return &HTTPPublisher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

type envelope struct {
	WorkerID string            `json:"workerId"`
	Event    models.AgentEvent `json:"event"`
}

func (p *HTTPPublisher) Publish(ctx context.Context, workerID string, event models.AgentEvent) error {
	body, err := json.Marshal(envelope{WorkerID: workerID, Event: event})
	if err != nil {
		return fmt.Errorf("events: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("events: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", event.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("events: publish %s: endpoint returned %s", event.Type, resp.Status)
	}
	return nil
}

// Recorder is an in-memory publisher for tests. It records events in
// publish order.
type Recorder struct {
	mu     sync.Mutex
	events []models.AgentEvent
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(_ context.Context, _ string, event models.AgentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []models.AgentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AgentEvent, len(r.events))
	copy(out, r.events)
	return out
}
