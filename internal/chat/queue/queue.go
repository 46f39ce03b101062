package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/chat/store"
	"github.com/ramarivera/portal/internal/common/appctx"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/metrics"
)

const defaultDispatchTimeout = time.Hour

// Options configures a Queue.
type Options struct {
	Policy          FailurePolicy
	DispatchTimeout time.Duration
	Notifier        Notifier
	Metrics         *metrics.Metrics
	// After, when set, holds back the first dispatch until it is closed.
	// It carries the idle channel of a retired queue for the same session
	// whose last dispatch may still be running.
	After <-chan struct{}
}

// Queue is the submission queue of one session.
type Queue struct {
	sessionID  string
	store      MessageStore
	dispatcher Dispatcher
	notifier   Notifier
	policy     FailurePolicy
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *logger.Logger

	mu       sync.Mutex
	pending  []*QueuedMessage
	inFlight *QueuedMessage
	draining bool
	closed   bool
	after    <-chan struct{}
	// idle is closed whenever no drain loop is running.
	idle   chan struct{}
	stopCh chan struct{}
	stop   sync.Once
}

// New creates the queue for sessionID.
func New(sessionID string, st MessageStore, dispatcher Dispatcher, log *logger.Logger, opts Options) *Queue {
	idle := make(chan struct{})
	close(idle)

	q := &Queue{
		sessionID:  sessionID,
		store:      st,
		dispatcher: dispatcher,
		notifier:   opts.Notifier,
		policy:     opts.Policy,
		timeout:    opts.DispatchTimeout,
		metrics:    opts.Metrics,
		logger:     log.WithFields(zap.String("component", "submission-queue"), zap.String("session_id", sessionID)),
		idle:       idle,
		stopCh:     make(chan struct{}),
		after:      opts.After,
	}
	if q.notifier == nil {
		q.notifier = nopNotifier{}
	}
	if q.policy == "" {
		q.policy = PolicyContinue
	}
	if q.timeout <= 0 {
		q.timeout = defaultDispatchTimeout
	}
	return q
}

// Enqueue accepts a prompt. The optimistic record is in the store when this
// returns; it is flagged queued when another send is ahead of it. The drain
// loop is started if it is not already running.
func (q *Queue) Enqueue(ctx context.Context, text string, model *ModelRef) (*QueuedMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrQueueClosed
	}

	msg := &QueuedMessage{
		ID:        newTempID(),
		SessionID: q.sessionID,
		Text:      text,
		Model:     model,
		State:     StatePending,
		QueuedAt:  time.Now().UTC(),
	}
	if msg.Model != nil {
		msg.Model = &ModelRef{ProviderID: model.ProviderID, ModelID: model.ModelID}
	}

	record := store.Message{
		ID:        msg.ID,
		Role:      store.RoleUser,
		Parts:     []store.Part{{Type: store.PartTypeText, Text: text}},
		CreatedAt: msg.QueuedAt,
		IsQueued:  q.draining || q.blockedLocked(),
	}
	if err := q.store.AddOptimistic(q.sessionID, record); err != nil {
		return nil, fmt.Errorf("add optimistic record: %w", err)
	}

	q.pending = append(q.pending, msg)
	q.metrics.AddQueueDepth(1)

	q.logger.Debug("message enqueued",
		zap.String("message_id", msg.ID),
		zap.Int("pending", len(q.pending)),
		zap.Bool("queued", record.IsQueued))

	if !q.draining {
		q.draining = true
		q.idle = make(chan struct{})
		go q.drain(ctx)
	}

	return msg.copy(), nil
}

// blockedLocked reports whether a retired queue's dispatch is still
// unresolved.
func (q *Queue) blockedLocked() bool {
	if q.after == nil {
		return false
	}
	select {
	case <-q.after:
		q.after = nil
		return false
	default:
		return true
	}
}

// drain dispatches entries one at a time until the queue is empty.
func (q *Queue) drain(parent context.Context) {
	q.mu.Lock()
	after := q.after
	q.mu.Unlock()
	if after != nil {
		select {
		case <-after:
		case <-q.stopCh:
		}
	}

	for {
		msg, ok := q.next()
		if !ok {
			return
		}

		ctx, cancel := appctx.Detached(parent, q.stopCh, q.timeout)
		err := q.dispatcher.Dispatch(ctx, q.sessionID, msg.Text, msg.Model)
		cancel()

		if err != nil {
			q.fail(msg, err)
			continue
		}
		q.confirm(parent, msg)
	}
}

// next pops the head and marks it sending. When the queue is empty the
// draining flag is cleared under the same lock that observed it.
func (q *Queue) next() (*QueuedMessage, bool) {
	q.mu.Lock()

	if q.closed || len(q.pending) == 0 {
		closed := q.closed
		idle := q.idle
		q.draining = false
		q.inFlight = nil
		q.mu.Unlock()

		if !closed {
			q.notifier.Drained(q.sessionID)
		}
		close(idle)
		return nil, false
	}

	msg := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.metrics.AddQueueDepth(-1)

	msg.State = StateSending
	q.inFlight = msg
	notQueued := false
	q.store.UpdateOptimistic(q.sessionID, msg.ID, store.Patch{IsQueued: &notQueued})
	q.mu.Unlock()

	q.logger.Debug("dispatching message", zap.String("message_id", msg.ID))
	return msg, true
}

// confirm applies a successful dispatch. The entry stays in flight until the
// follow-up reconcile returns, so prompts enqueued meanwhile are flagged queued.
func (q *Queue) confirm(ctx context.Context, msg *QueuedMessage) {
	q.mu.Lock()
	if q.closed {
		q.inFlight = nil
		q.mu.Unlock()
		return
	}
	msg.State = StateConfirmed
	delivered := true
	q.store.UpdateOptimistic(q.sessionID, msg.ID, store.Patch{Delivered: &delivered})
	q.mu.Unlock()

	q.metrics.ObserveDispatch(metrics.OutcomeSuccess)
	q.notifier.Dispatched(q.sessionID, msg.ID)

	if err := q.store.Reconcile(context.WithoutCancel(ctx), q.sessionID); err != nil {
		q.logger.Warn("reconcile after dispatch failed",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}

	q.mu.Lock()
	q.inFlight = nil
	q.mu.Unlock()
}

func (q *Queue) fail(msg *QueuedMessage, err error) {
	q.mu.Lock()
	q.inFlight = nil
	if q.closed {
		q.mu.Unlock()
		return
	}
	msg.State = StateFailed
	msg.Error = err.Error()
	q.store.RemoveOptimistic(q.sessionID, msg.ID)

	var aborted []*QueuedMessage
	if q.policy == PolicyAbort {
		aborted = q.pending
		q.pending = nil
		q.metrics.AddQueueDepth(-len(aborted))
		for _, m := range aborted {
			m.State = StateFailed
			m.Error = ErrAborted.Error()
			q.store.RemoveOptimistic(q.sessionID, m.ID)
		}
	}
	q.mu.Unlock()

	q.metrics.ObserveDispatch(metrics.OutcomeFailure)
	q.logger.Warn("dispatch failed",
		zap.String("message_id", msg.ID),
		zap.Int("aborted", len(aborted)),
		zap.Error(err))

	q.notifier.QueueError(q.sessionID, msg.ID, err)
	for _, m := range aborted {
		q.notifier.QueueError(q.sessionID, m.ID, ErrAborted)
	}
}

// Cancel removes a submission that has not started sending, along with its
// optimistic record.
func (q *Queue) Cancel(id string) (*QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, m := range q.pending {
		if m.ID != id {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.metrics.AddQueueDepth(-1)
		q.metrics.ObserveDispatch(metrics.OutcomeCancelled)
		m.State = StateCancelled
		q.store.RemoveOptimistic(q.sessionID, id)
		q.logger.Debug("queued message cancelled", zap.String("message_id", id))
		return m.copy(), nil
	}
	return nil, fmt.Errorf("cancel %s: %w", id, ErrNotFound)
}

// Pending returns the entries waiting behind the in-flight one, in order.
func (q *Queue) Pending() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

func (q *Queue) pendingLocked() []QueuedMessage {
	out := make([]QueuedMessage, len(q.pending))
	for i, m := range q.pending {
		out[i] = *m.copy()
	}
	return out
}

// InFlight returns the entry being dispatched, or nil.
func (q *Queue) InFlight() *QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight.copy()
}

// Status returns a snapshot of the queue.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Status{
		SessionID: q.sessionID,
		InFlight:  q.inFlight.copy(),
		Pending:   q.pendingLocked(),
		Draining:  q.draining,
	}
}

// Idle returns a channel that is closed once no drain loop is running. After
// Close the returned channel is final.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// Wait blocks until no drain loop is running or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops pending entries and rejects new ones. A dispatch already in
// flight runs to completion but its outcome is not applied.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.metrics.AddQueueDepth(-len(q.pending))
	for _, m := range q.pending {
		m.State = StateCancelled
	}
	q.pending = nil
}

// Abort closes the queue and cancels the in-flight dispatch.
func (q *Queue) Abort() {
	q.Close()
	q.stop.Do(func() { close(q.stopCh) })
}
