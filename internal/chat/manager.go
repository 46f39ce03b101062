// Package chat owns per-session chat state: a scope per open session view,
// holding its submission queue, with the shared message store behind it.
package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/chat/queue"
	"github.com/ramarivera/portal/internal/chat/store"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/metrics"
)

// ErrScopeNotFound is returned for operations on a session with no open scope.
var ErrScopeNotFound = errors.New("session scope not open")

// Scope is the server-side state of one open session view.
type Scope struct {
	SessionID string
	Queue     *queue.Queue
	OpenedAt  time.Time
	refs      int
}

// Manager opens and discards session scopes.
type Manager struct {
	store      *store.Store
	dispatcher queue.Dispatcher
	opts       queue.Options
	metrics    *metrics.Metrics
	baseLog    *logger.Logger
	logger     *logger.Logger

	mu     sync.Mutex
	scopes map[string]*Scope
	// retiring maps a session to the idle channel of its last discarded
	// queue while that queue's dispatch is unresolved. A reopened scope's
	// queue waits on it so one session never has two prompts upstream.
	retiring map[string]<-chan struct{}
	closed   bool
}

// NewManager creates a Manager. opts applies to every queue it creates.
func NewManager(st *store.Store, dispatcher queue.Dispatcher, log *logger.Logger, opts queue.Options) *Manager {
	return &Manager{
		store:      st,
		dispatcher: dispatcher,
		opts:       opts,
		metrics:    opts.Metrics,
		baseLog:    log,
		logger:     log.WithFields(zap.String("component", "chat-manager")),
		scopes:     make(map[string]*Scope),
		retiring:   make(map[string]<-chan struct{}),
	}
}

// Store returns the message store shared by all scopes.
func (m *Manager) Store() *store.Store {
	return m.store
}

// Open returns the scope for sessionID, creating it if needed.
func (m *Manager) Open(sessionID string) (*Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLocked(sessionID)
}

func (m *Manager) openLocked(sessionID string) (*Scope, error) {
	if m.closed {
		return nil, queue.ErrQueueClosed
	}
	if scope, ok := m.scopes[sessionID]; ok {
		return scope, nil
	}
	opts := m.opts
	if idle, ok := m.retiring[sessionID]; ok {
		opts.After = idle
	}
	scope := &Scope{
		SessionID: sessionID,
		Queue:     queue.New(sessionID, m.store, m.dispatcher, m.baseLog, opts),
		OpenedAt:  time.Now().UTC(),
	}
	m.scopes[sessionID] = scope
	m.metrics.AddOpenScopes(1)
	m.logger.Debug("session scope opened", zap.String("session_id", sessionID))
	return scope, nil
}

// Get returns the open scope for sessionID.
func (m *Manager) Get(sessionID string) (*Scope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope, ok := m.scopes[sessionID]
	return scope, ok
}

// Discard closes the scope's queue and drops its cached messages. Results of
// requests still in flight for it are ignored, but a scope reopened for the
// same session does not dispatch until they resolve.
func (m *Manager) Discard(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope, ok := m.scopes[sessionID]
	if !ok {
		return false
	}
	delete(m.scopes, sessionID)
	scope.Queue.Close()
	m.store.Discard(sessionID)
	m.retireLocked(sessionID, scope.Queue.Idle())

	m.metrics.AddOpenScopes(-1)
	m.logger.Debug("session scope discarded", zap.String("session_id", sessionID))
	return true
}

// retireLocked records idle as the session's unresolved dispatch. An idle
// channel that is already closed leaves any earlier marker in place: the
// queue never dispatched, so the earlier one is still what blocks.
func (m *Manager) retireLocked(sessionID string, idle <-chan struct{}) {
	select {
	case <-idle:
		return
	default:
	}
	m.retiring[sessionID] = idle
	go func() {
		<-idle
		m.mu.Lock()
		if m.retiring[sessionID] == idle {
			delete(m.retiring, sessionID)
		}
		m.mu.Unlock()
	}()
}

// Retiring reports whether a discarded scope of sessionID still has a
// dispatch unresolved.
func (m *Manager) Retiring(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.retiring[sessionID]
	return ok
}

// Enqueue submits a prompt to the session's queue, opening the scope when
// needed.
func (m *Manager) Enqueue(ctx context.Context, sessionID, text string, model *queue.ModelRef) (*queue.QueuedMessage, error) {
	scope, err := m.Open(sessionID)
	if err != nil {
		return nil, err
	}
	return scope.Queue.Enqueue(ctx, text, model)
}

// Cancel removes a pending submission.
func (m *Manager) Cancel(sessionID, messageID string) (*queue.QueuedMessage, error) {
	scope, ok := m.Get(sessionID)
	if !ok {
		return nil, ErrScopeNotFound
	}
	return scope.Queue.Cancel(messageID)
}

// Status returns the queue snapshot of a session. Sessions without a scope
// report an empty queue.
func (m *Manager) Status(sessionID string) queue.Status {
	scope, ok := m.Get(sessionID)
	if !ok {
		return queue.Status{SessionID: sessionID, Pending: []queue.QueuedMessage{}}
	}
	return scope.Queue.Status()
}

// Acquire takes a reference on the session's scope for a live subscriber
// and loads its messages in the background.
func (m *Manager) Acquire(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	scope, err := m.openLocked(sessionID)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	scope.refs++
	first := scope.refs == 1
	m.mu.Unlock()

	if first {
		go func() {
			if err := m.store.Reconcile(context.WithoutCancel(ctx), sessionID); err != nil {
				m.logger.Warn("initial reconcile failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}()
	}
	return nil
}

// Release drops a subscriber reference. The scope is discarded with the last one.
func (m *Manager) Release(sessionID string) {
	m.mu.Lock()
	scope, ok := m.scopes[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	scope.refs--
	last := scope.refs <= 0
	m.mu.Unlock()

	if last {
		m.Discard(sessionID)
	}
}

// Reconcile refreshes the cached messages of an open session.
func (m *Manager) Reconcile(ctx context.Context, sessionID string) error {
	return m.store.Reconcile(ctx, sessionID)
}

// OpenSessions returns the IDs of all open scopes, sorted.
func (m *Manager) OpenSessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.scopes))
	for id := range m.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsOpen reports whether a scope exists for sessionID.
func (m *Manager) IsOpen(sessionID string) bool {
	_, ok := m.Get(sessionID)
	return ok
}

// Shutdown rejects new work, waits for in-flight dispatches, and aborts
// whatever is still running when ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	scopes := make([]*Scope, 0, len(m.scopes))
	for _, scope := range m.scopes {
		scopes = append(scopes, scope)
	}
	m.scopes = make(map[string]*Scope)
	retiring := make([]<-chan struct{}, 0, len(m.retiring))
	for _, idle := range m.retiring {
		retiring = append(retiring, idle)
	}
	m.mu.Unlock()

	for _, scope := range scopes {
		scope.Queue.Close()
	}

	var waitErr error
	for _, scope := range scopes {
		if err := scope.Queue.Wait(ctx); err != nil {
			waitErr = err
			break
		}
	}
	for _, idle := range retiring {
		if waitErr != nil {
			break
		}
		select {
		case <-idle:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}
	}
	for _, scope := range scopes {
		scope.Queue.Abort()
		m.store.Discard(scope.SessionID)
		m.metrics.AddOpenScopes(-1)
	}

	m.logger.Info("chat manager stopped", zap.Int("scopes", len(scopes)))
	return waitErr
}
