// Package store holds the per-session message cache used by the chat view:
// optimistic records inserted on submit, reconciled against the upstream's
// authoritative list.
package store

import (
	"context"
	"time"
)

// Roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types that matter for visibility. Other upstream types pass through.
const (
	PartTypeText = "text"
	PartTypeTool = "tool"
)

// Part is one ordered content fragment of a message.
type Part struct {
	ID     string     `json:"id,omitempty"`
	Type   string     `json:"type"`
	Text   string     `json:"text,omitempty"`
	Tool   string     `json:"tool,omitempty"`
	CallID string     `json:"callId,omitempty"`
	State  *ToolState `json:"state,omitempty"`
}

// ToolState is the execution state of a tool invocation part.
type ToolState struct {
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Message is a rendered chat entry, either authoritative or optimistic.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"`
	Parts     []Part    `json:"parts"`
	CreatedAt time.Time `json:"createdAt"`

	// Optimistic marks a record inserted before the upstream confirmed it.
	Optimistic bool `json:"optimistic,omitempty"`
	// IsQueued is true while the record waits behind another send.
	IsQueued bool `json:"isQueued,omitempty"`
	// Delivered is set once the upstream accepted the prompt; a later
	// reconcile drops the record in favour of the server copy.
	Delivered bool `json:"-"`
}

// Text returns the concatenated text parts.
func (m *Message) Text() string {
	var text string
	for _, p := range m.Parts {
		if p.Type == PartTypeText {
			text += p.Text
		}
	}
	return text
}

func (m Message) clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			if p.State != nil {
				state := *p.State
				p.State = &state
			}
			out.Parts[i] = p
		}
	}
	return out
}

func cloneAll(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.clone()
	}
	return out
}

// Patch lists the fields UpdateOptimistic may change. Nil fields are left as is.
type Patch struct {
	IsQueued  *bool
	Delivered *bool
}

func (p Patch) apply(m *Message) {
	if p.IsQueued != nil {
		m.IsQueued = *p.IsQueued
	}
	if p.Delivered != nil {
		m.Delivered = *p.Delivered
	}
}

// Fetcher returns the authoritative, ordered message list of a session.
type Fetcher interface {
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, sessionID string) ([]Message, error)

func (f FetcherFunc) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	return f(ctx, sessionID)
}

// Observer is told about every change to a session's list. It is called
// with the store lock held so changes are observed in order; implementations
// must not call back into the Store.
type Observer interface {
	MessageAdded(sessionID string, msg Message)
	MessageUpdated(sessionID string, msg Message)
	MessageRemoved(sessionID, messageID string)
	Reconciled(sessionID string, visible []Message)
}

type nopObserver struct{}

func (nopObserver) MessageAdded(string, Message)   {}
func (nopObserver) MessageUpdated(string, Message) {}
func (nopObserver) MessageRemoved(string, string)  {}
func (nopObserver) Reconciled(string, []Message)   {}
