// Package sessions persists per-worker session metadata: status, title,
// cost, visibility, and small per-session scratch records set by tools.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/remoteswe/worker/internal/kv"
	"github.com/remoteswe/worker/pkg/models"
)

const (
	sessionsPK     = "sessions"
	metaPKPrefix   = "meta-"
	updatedAtWidth = 15
)

// Store reads and mutates session records in the shared table.
type Store struct {
	kv     kv.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a session store over the shared table.
func NewStore(store kv.Store, logger *slog.Logger) *Store {
	return &Store{kv: store, logger: logger, now: time.Now}
}

// Get loads one session. Returns kv.ErrNotFound when the session does not exist.
func (s *Store) Get(ctx context.Context, workerID string) (*models.Session, error) {
	var session models.Session
	if err := s.kv.Get(ctx, sessionsPK, workerID, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Create persists a fresh session record.
func (s *Store) Create(ctx context.Context, session *models.Session) error {
	now := s.now().UnixMilli()
	if session.CreatedAt == 0 {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	put := kv.Put{
		PK:   sessionsPK,
		SK:   session.WorkerID,
		LSI1: formatUpdatedAt(session.UpdatedAt),
		Item: session,
	}
	if err := s.kv.Put(ctx, put); err != nil {
		return fmt.Errorf("sessions: create %s: %w", session.WorkerID, err)
	}
	return nil
}

// List returns sessions newest-first, excluding hidden ones. A zero limit
// pages through every session; otherwise one query of up to limit records is
// issued (hidden records are filtered after the query, so fewer than limit
// items may come back).
func (s *Store) List(ctx context.Context, limit int32) ([]models.Session, error) {
	var all []models.Session
	q := kv.Query{PK: sessionsPK, UseLSI1: true, Reverse: true, Limit: limit}
	if err := s.kv.Query(ctx, q, &all); err != nil {
		return nil, fmt.Errorf("sessions: list: %w", err)
	}
	visible := all[:0]
	for _, session := range all {
		if session.IsHidden {
			continue
		}
		visible = append(visible, session)
	}
	return visible, nil
}

// ListRange returns visible sessions updated strictly between from and to
// (millisecond timestamps), newest first.
func (s *Store) ListRange(ctx context.Context, from, to int64) ([]models.Session, error) {
	var all []models.Session
	q := kv.Query{
		PK:        sessionsPK,
		UseLSI1:   true,
		Reverse:   true,
		AfterKey:  formatUpdatedAt(from),
		BeforeKey: formatUpdatedAt(to),
	}
	if err := s.kv.Query(ctx, q, &all); err != nil {
		return nil, fmt.Errorf("sessions: list range: %w", err)
	}
	visible := all[:0]
	for _, session := range all {
		if session.IsHidden {
			continue
		}
		visible = append(visible, session)
	}
	return visible, nil
}

// Update applies a partial set of attributes and refreshes the updatedAt
// ordering key.
func (s *Store) Update(ctx context.Context, workerID string, set map[string]any) error {
	updatedAt := s.now().UnixMilli()
	merged := make(map[string]any, len(set)+2)
	for k, v := range set {
		merged[k] = v
	}
	merged["updatedAt"] = updatedAt
	merged["LSI1"] = formatUpdatedAt(updatedAt)
	if err := s.kv.Update(ctx, sessionsPK, workerID, merged); err != nil {
		return fmt.Errorf("sessions: update %s: %w", workerID, err)
	}
	return nil
}

// UpdateStatus moves the session's agent status.
func (s *Store) UpdateStatus(ctx context.Context, workerID string, status models.AgentStatus) error {
	return s.Update(ctx, workerID, map[string]any{"agentStatus": status})
}

// UpdateTitle sets the session title.
func (s *Store) UpdateTitle(ctx context.Context, workerID, title string) error {
	return s.Update(ctx, workerID, map[string]any{"title": title})
}

// UpdateVisibility soft-deletes or restores the session.
func (s *Store) UpdateVisibility(ctx context.Context, workerID string, hidden bool) error {
	return s.Update(ctx, workerID, map[string]any{"isHidden": hidden})
}

// UpdateCost overwrites the session's rolled-up USD cost.
func (s *Store) UpdateCost(ctx context.Context, workerID string, cost float64) error {
	return s.Update(ctx, workerID, map[string]any{"cost": cost})
}

func formatUpdatedAt(ms int64) string {
	return fmt.Sprintf("%0*d", updatedAtWidth, ms)
}
