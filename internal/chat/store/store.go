package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/metrics"
)

// serverClockSkew is how far an upstream timestamp may trail the local clock
// and still be taken as the server copy of a prompt being sent.
const serverClockSkew = time.Second

// ErrDuplicateID is returned when an optimistic record reuses an ID already
// present in the session.
var ErrDuplicateID = errors.New("message id already present")

type sessionMessages struct {
	messages []Message
}

// Store is a keyed cache of message lists, one per session.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessionMessages
	// epochs survive Discard so a late reconcile can tell the scope it
	// started for is gone.
	epochs   map[string]uint64
	requests uint64

	fetcher  Fetcher
	observer Observer
	group    singleflight.Group
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithObserver installs a change observer.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithMetrics records reconcile outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a Store that reconciles through fetcher.
func New(fetcher Fetcher, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*sessionMessages),
		epochs:   make(map[string]uint64),
		fetcher:  fetcher,
		observer: nopObserver{},
		logger:   log.WithFields(zap.String("component", "message-store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) sessionLocked(sessionID string) *sessionMessages {
	sm, ok := s.sessions[sessionID]
	if !ok {
		sm = &sessionMessages{}
		s.sessions[sessionID] = sm
	}
	return sm
}

func indexOf(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// AddOptimistic appends msg to the session's list. The record is visible to
// readers as soon as this returns.
func (s *Store) AddOptimistic(sessionID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm := s.sessionLocked(sessionID)
	if indexOf(sm.messages, msg.ID) >= 0 {
		return fmt.Errorf("add %s: %w", msg.ID, ErrDuplicateID)
	}
	msg = msg.clone()
	msg.SessionID = sessionID
	msg.Optimistic = true
	sm.messages = append(sm.messages, msg)

	s.observer.MessageAdded(sessionID, msg.clone())
	return nil
}

// UpdateOptimistic merges patch into the record with the given id. Returns
// false when the record is gone, for instance after a reconcile dropped it.
func (s *Store) UpdateOptimistic(sessionID, id string, patch Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	i := indexOf(sm.messages, id)
	if i < 0 || !sm.messages[i].Optimistic {
		return false
	}
	patch.apply(&sm.messages[i])

	s.observer.MessageUpdated(sessionID, sm.messages[i].clone())
	return true
}

// RemoveOptimistic deletes the optimistic record with the given id.
func (s *Store) RemoveOptimistic(sessionID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.sessions[sessionID]
	if !ok {
		return false
	}
	i := indexOf(sm.messages, id)
	if i < 0 || !sm.messages[i].Optimistic {
		return false
	}
	sm.messages = append(sm.messages[:i], sm.messages[i+1:]...)

	s.observer.MessageRemoved(sessionID, id)
	return true
}

// Reconcile replaces the session's list with the authoritative one.
// Optimistic records not yet delivered upstream are kept after it; delivered
// ones are dropped, and so is a record being sent once the authoritative list
// holds its server copy. Concurrent calls share one fetch, but a call never
// accepts a fetch that started before it was made. On fetch failure the
// cached list is left unchanged.
func (s *Store) Reconcile(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	s.requests++
	requested := s.requests
	s.mu.Unlock()

	for {
		v, err, _ := s.group.Do(sessionID, func() (any, error) {
			return s.fetchAndApply(ctx, sessionID)
		})
		if err != nil {
			return err
		}
		if started := v.(uint64); started >= requested {
			return nil
		}
	}
}

// fetchAndApply returns the request counter observed when the fetch began.
func (s *Store) fetchAndApply(ctx context.Context, sessionID string) (uint64, error) {
	s.mu.Lock()
	started := s.requests
	epoch := s.epochs[sessionID]
	s.mu.Unlock()

	// Shared by every caller coalesced onto this flight.
	fetched, err := s.fetcher.ListMessages(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		s.metrics.ObserveReconcile(metrics.OutcomeFailure)
		return started, fmt.Errorf("fetch messages for %s: %w", sessionID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epochs[sessionID] != epoch {
		s.metrics.ObserveReconcile(metrics.OutcomeStale)
		s.logger.Debug("discarding reconcile for closed session", zap.String("session_id", sessionID))
		return started, nil
	}

	merged := make([]Message, 0, len(fetched))
	for _, m := range fetched {
		m = m.clone()
		m.SessionID = sessionID
		m.Optimistic = false
		m.IsQueued = false
		m.Delivered = false
		merged = append(merged, m)
	}

	authoritative := len(merged)
	claimed := make(map[int]bool)
	sm := s.sessionLocked(sessionID)
	for _, m := range sm.messages {
		if !m.Optimistic || m.Delivered || indexOf(merged, m.ID) >= 0 {
			continue
		}
		if !m.IsQueued {
			if i := serverCopy(merged[:authoritative], m, claimed); i >= 0 {
				claimed[i] = true
				continue
			}
		}
		merged = append(merged, m)
	}
	sm.messages = merged

	s.metrics.ObserveReconcile(metrics.OutcomeSuccess)
	s.observer.Reconciled(sessionID, cloneAll(FilterVisible(merged)))
	return started, nil
}

// serverCopy returns the index of the latest unclaimed user message in fetched
// with the same text as sending, created no earlier than it, or -1.
func serverCopy(fetched []Message, sending Message, claimed map[int]bool) int {
	text := strings.TrimSpace(sending.Text())
	earliest := sending.CreatedAt.Add(-serverClockSkew)
	for i := len(fetched) - 1; i >= 0; i-- {
		f := &fetched[i]
		if claimed[i] || f.Role != RoleUser || f.CreatedAt.Before(earliest) {
			continue
		}
		if strings.TrimSpace(f.Text()) == text {
			return i
		}
	}
	return -1
}

// Messages returns a copy of the session's list in order.
func (s *Store) Messages(sessionID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.sessions[sessionID]
	if !ok {
		return []Message{}
	}
	return cloneAll(sm.messages)
}

// Visible returns the session's list with non-renderable messages removed.
func (s *Store) Visible(sessionID string) []Message {
	return FilterVisible(s.Messages(sessionID))
}

// Get returns a copy of one record.
func (s *Store) Get(sessionID, id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sm, ok := s.sessions[sessionID]
	if !ok {
		return Message{}, false
	}
	i := indexOf(sm.messages, id)
	if i < 0 {
		return Message{}, false
	}
	return sm.messages[i].clone(), true
}

// Discard drops the session's cached list. Reconciles in flight for it are
// ignored when they complete.
func (s *Store) Discard(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	s.epochs[sessionID]++
}
