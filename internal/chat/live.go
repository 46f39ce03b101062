package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/pkg/opencode"
)

const (
	liveDebounce      = 200 * time.Millisecond
	liveMinBackoff    = time.Second
	liveMaxBackoff    = 30 * time.Second
	liveHealthyStream = time.Minute
)

// EventSource streams upstream events until ctx ends or the stream drops.
type EventSource interface {
	SubscribeEvents(ctx context.Context, handler opencode.EventHandler) error
}

// LiveRefresher follows the upstream event stream and reconciles open
// sessions whose messages changed, so replies appear while a prompt is
// still running.
type LiveRefresher struct {
	source   EventSource
	manager  *Manager
	debounce time.Duration
	logger   *logger.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewLiveRefresher creates a refresher for the manager's open scopes.
func NewLiveRefresher(source EventSource, manager *Manager, log *logger.Logger) *LiveRefresher {
	return &LiveRefresher{
		source:   source,
		manager:  manager,
		debounce: liveDebounce,
		logger:   log.WithFields(zap.String("component", "live-refresh")),
		timers:   make(map[string]*time.Timer),
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting with
// exponential backoff.
func (r *LiveRefresher) Run(ctx context.Context) {
	defer r.stopTimers()

	backoff := liveMinBackoff
	for {
		started := time.Now()
		err := r.source.SubscribeEvents(ctx, r.handle)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > liveHealthyStream {
			backoff = liveMinBackoff
		}
		r.logger.Warn("upstream event stream ended",
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > liveMaxBackoff {
			backoff = liveMaxBackoff
		}
	}
}

func (r *LiveRefresher) handle(event *opencode.SDKEventEnvelope) {
	switch event.Type {
	case opencode.SDKEventMessageUpdated,
		opencode.SDKEventMessagePartUpdated,
		opencode.SDKEventMessageRemoved,
		opencode.SDKEventSessionIdle,
		opencode.SDKEventSessionError:
	default:
		return
	}

	sessionID := event.SessionID()
	if sessionID == "" || !r.manager.IsOpen(sessionID) {
		return
	}
	r.schedule(sessionID)
}

// schedule reconciles sessionID once events stop arriving for the debounce window.
func (r *LiveRefresher) schedule(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timers == nil {
		return
	}
	if t, ok := r.timers[sessionID]; ok {
		t.Reset(r.debounce)
		return
	}
	r.timers[sessionID] = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		delete(r.timers, sessionID)
		r.mu.Unlock()

		if !r.manager.IsOpen(sessionID) {
			return
		}
		if err := r.manager.Reconcile(context.Background(), sessionID); err != nil {
			r.logger.Debug("live reconcile failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	})
}

func (r *LiveRefresher) stopTimers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
}
