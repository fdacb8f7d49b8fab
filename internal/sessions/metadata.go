package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/remoteswe/worker/internal/kv"
)

// Metadata keys under the per-session scratch partition.
const (
	metaKeyRepo       = "repo"
	metaKeyTodoList   = "todoList"
	metaKeyLastReport = "lastReport"
)

// RepoMetadata records where a cloned repository lives on the worker.
type RepoMetadata struct {
	RepoDirectory string `json:"repoDirectory" dynamodbav:"repoDirectory"`
}

// TodoItem is one entry of the agent-maintained task list.
type TodoItem struct {
	ID     string `json:"id" dynamodbav:"id"`
	Body   string `json:"body" dynamodbav:"body"`
	Status string `json:"status" dynamodbav:"status"`
}

// TodoListMetadata is the agent's task list for the session.
type TodoListMetadata struct {
	Items []TodoItem `json:"items" dynamodbav:"items"`
}

// LastReportMetadata records when the agent last reported progress, used by
// renderers to force a progress echo after long silences.
type LastReportMetadata struct {
	Timestamp int64 `json:"timestamp" dynamodbav:"timestamp"`
}

func metaPK(workerID string) string {
	return metaPKPrefix + workerID
}

// GetRepoMetadata returns the session's repo record, or nil when unset.
func (s *Store) GetRepoMetadata(ctx context.Context, workerID string) (*RepoMetadata, error) {
	var meta RepoMetadata
	err := s.kv.Get(ctx, metaPK(workerID), metaKeyRepo, &meta)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get repo metadata %s: %w", workerID, err)
	}
	return &meta, nil
}

// SetRepoMetadata records the cloned repository directory.
func (s *Store) SetRepoMetadata(ctx context.Context, workerID string, meta RepoMetadata) error {
	put := kv.Put{PK: metaPK(workerID), SK: metaKeyRepo, Item: meta}
	if err := s.kv.Put(ctx, put); err != nil {
		return fmt.Errorf("sessions: set repo metadata %s: %w", workerID, err)
	}
	return nil
}

// GetTodoList returns the session's task list, or an empty list when unset.
func (s *Store) GetTodoList(ctx context.Context, workerID string) (*TodoListMetadata, error) {
	var meta TodoListMetadata
	err := s.kv.Get(ctx, metaPK(workerID), metaKeyTodoList, &meta)
	if errors.Is(err, kv.ErrNotFound) {
		return &TodoListMetadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get todo list %s: %w", workerID, err)
	}
	return &meta, nil
}

// SetTodoList replaces the session's task list.
func (s *Store) SetTodoList(ctx context.Context, workerID string, meta TodoListMetadata) error {
	put := kv.Put{PK: metaPK(workerID), SK: metaKeyTodoList, Item: meta}
	if err := s.kv.Put(ctx, put); err != nil {
		return fmt.Errorf("sessions: set todo list %s: %w", workerID, err)
	}
	return nil
}

// TouchLastReport records the current time as the last progress report.
func (s *Store) TouchLastReport(ctx context.Context, workerID string) error {
	meta := LastReportMetadata{Timestamp: s.now().UnixMilli()}
	put := kv.Put{PK: metaPK(workerID), SK: metaKeyLastReport, Item: meta}
	if err := s.kv.Put(ctx, put); err != nil {
		return fmt.Errorf("sessions: touch last report %s: %w", workerID, err)
	}
	return nil
}

// GetLastReport returns the last progress-report time, or nil when the agent
// has never reported.
func (s *Store) GetLastReport(ctx context.Context, workerID string) (*LastReportMetadata, error) {
	var meta LastReportMetadata
	err := s.kv.Get(ctx, metaPK(workerID), metaKeyLastReport, &meta)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessions: get last report %s: %w", workerID, err)
	}
	return &meta, nil
}
