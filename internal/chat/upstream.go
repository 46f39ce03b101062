package chat

import (
	"context"
	"time"

	"github.com/ramarivera/portal/internal/chat/queue"
	"github.com/ramarivera/portal/internal/chat/store"
	"github.com/ramarivera/portal/pkg/opencode"
)

// Upstream is the slice of the OpenCode client the chat core depends on.
type Upstream interface {
	ListMessages(ctx context.Context, sessionID string) ([]opencode.MessageWithParts, error)
	SendPrompt(ctx context.Context, sessionID, prompt string, model *opencode.ModelSpec) (*opencode.MessageWithParts, error)
}

// NewFetcher reads authoritative message lists from the upstream.
func NewFetcher(u Upstream) store.Fetcher {
	return store.FetcherFunc(func(ctx context.Context, sessionID string) ([]store.Message, error) {
		raw, err := u.ListMessages(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		msgs := make([]store.Message, 0, len(raw))
		for _, m := range raw {
			msgs = append(msgs, ConvertMessage(m))
		}
		return msgs, nil
	})
}

// NewDispatcher sends prompts to the upstream.
func NewDispatcher(u Upstream) queue.Dispatcher {
	return queue.DispatcherFunc(func(ctx context.Context, sessionID, text string, model *queue.ModelRef) error {
		var spec *opencode.ModelSpec
		if model != nil && model.ProviderID != "" && model.ModelID != "" {
			spec = &opencode.ModelSpec{ProviderID: model.ProviderID, ModelID: model.ModelID}
		}
		_, err := u.SendPrompt(ctx, sessionID, text, spec)
		return err
	})
}

// ConvertMessage maps an upstream message onto the store's model.
func ConvertMessage(m opencode.MessageWithParts) store.Message {
	parts := make([]store.Part, 0, len(m.Parts))
	for _, p := range m.Parts {
		part := store.Part{
			ID:     p.ID,
			Type:   p.Type,
			Text:   p.Text,
			Tool:   p.Tool,
			CallID: p.CallID,
		}
		if p.State != nil {
			part.State = &store.ToolState{
				Status: p.State.Status,
				Title:  p.State.Title,
				Output: p.State.Output,
				Error:  p.State.Error,
			}
		}
		parts = append(parts, part)
	}

	var created time.Time
	if m.Info.Time.Created > 0 {
		created = time.UnixMilli(m.Info.Time.Created).UTC()
	}
	return store.Message{
		ID:        m.Info.ID,
		SessionID: m.Info.SessionID,
		Role:      m.Info.Role,
		Parts:     parts,
		CreatedAt: created,
	}
}
