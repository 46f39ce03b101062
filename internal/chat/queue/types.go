// Package queue serializes prompt submissions per session: FIFO, one
// dispatch in flight at a time, with optimistic records kept in step.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ramarivera/portal/internal/chat/store"
)

var (
	ErrEmptyMessage = errors.New("message text is empty")
	ErrQueueClosed  = errors.New("queue is closed")
	ErrNotFound     = errors.New("queued message not found")
	// ErrAborted is reported for entries dropped because an earlier send
	// failed under the abort policy.
	ErrAborted = errors.New("aborted after earlier send failed")
)

// State is the lifecycle of a queued submission.
type State string

const (
	StatePending   State = "pending"
	StateSending   State = "sending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// FailurePolicy decides what happens to the rest of the queue when a send fails.
type FailurePolicy string

const (
	// PolicyContinue keeps draining the remaining entries.
	PolicyContinue FailurePolicy = "continue"
	// PolicyAbort fails every entry still waiting.
	PolicyAbort FailurePolicy = "abort"
)

// ModelRef selects the upstream model for one prompt.
type ModelRef struct {
	ProviderID string `json:"providerId"`
	ModelID    string `json:"modelId"`
}

// QueuedMessage is one submission waiting for, or going through, dispatch.
type QueuedMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Model     *ModelRef `json:"model,omitempty"`
	State     State     `json:"state"`
	QueuedAt  time.Time `json:"queuedAt"`
	Error     string    `json:"error,omitempty"`
}

// Status is a snapshot of a session's queue.
type Status struct {
	SessionID string          `json:"sessionId"`
	InFlight  *QueuedMessage  `json:"inFlight,omitempty"`
	Pending   []QueuedMessage `json:"pending"`
	Draining  bool            `json:"draining"`
}

// Dispatcher delivers one prompt upstream and blocks until it is answered.
type Dispatcher interface {
	Dispatch(ctx context.Context, sessionID, text string, model *ModelRef) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, sessionID, text string, model *ModelRef) error

func (f DispatcherFunc) Dispatch(ctx context.Context, sessionID, text string, model *ModelRef) error {
	return f(ctx, sessionID, text, model)
}

// MessageStore is the part of the message cache the queue drives.
type MessageStore interface {
	AddOptimistic(sessionID string, msg store.Message) error
	UpdateOptimistic(sessionID, id string, patch store.Patch) bool
	RemoveOptimistic(sessionID, id string) bool
	Reconcile(ctx context.Context, sessionID string) error
}

// Notifier surfaces dispatch outcomes to the UI.
type Notifier interface {
	Dispatched(sessionID, messageID string)
	QueueError(sessionID, messageID string, err error)
	Drained(sessionID string)
}

type nopNotifier struct{}

func (nopNotifier) Dispatched(string, string)        {}
func (nopNotifier) QueueError(string, string, error) {}
func (nopNotifier) Drained(string)                   {}

var tempSeq atomic.Uint64

// newTempID returns a client-side identifier distinct from upstream ids.
func newTempID() string {
	return fmt.Sprintf("temp-%d-%d", time.Now().UnixNano(), tempSeq.Add(1))
}

func (m *QueuedMessage) copy() *QueuedMessage {
	if m == nil {
		return nil
	}
	out := *m
	if m.Model != nil {
		model := *m.Model
		out.Model = &model
	}
	return &out
}
