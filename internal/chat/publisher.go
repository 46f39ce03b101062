package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/chat/store"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/events"
	"github.com/ramarivera/portal/internal/events/bus"
)

const eventSource = "chat"

// RemovedPayload is published on message.removed.
type RemovedPayload struct {
	ID string `json:"id"`
}

// ReconciledPayload is published on messages.reconciled.
type ReconciledPayload struct {
	Messages []store.Message `json:"messages"`
}

// QueuePayload is published on queue.dispatched, queue.error and queue.drained.
type QueuePayload struct {
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher turns store changes and queue outcomes into bus events. It
// implements store.Observer and queue.Notifier.
type Publisher struct {
	bus    bus.EventBus
	logger *logger.Logger
}

// NewPublisher creates a Publisher on eventBus.
func NewPublisher(eventBus bus.EventBus, log *logger.Logger) *Publisher {
	return &Publisher{
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "chat-publisher")),
	}
}

func (p *Publisher) publish(sessionID, eventType string, data any) {
	subject := events.ChatSubject(sessionID, eventType)
	if err := p.bus.Publish(context.Background(), subject, bus.NewEvent(eventType, eventSource, data)); err != nil {
		p.logger.Warn("failed to publish chat event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

func (p *Publisher) MessageAdded(sessionID string, msg store.Message) {
	p.publish(sessionID, events.MessageAdded, msg)
}

func (p *Publisher) MessageUpdated(sessionID string, msg store.Message) {
	p.publish(sessionID, events.MessageUpdated, msg)
}

func (p *Publisher) MessageRemoved(sessionID, messageID string) {
	p.publish(sessionID, events.MessageRemoved, RemovedPayload{ID: messageID})
}

func (p *Publisher) Reconciled(sessionID string, visible []store.Message) {
	p.publish(sessionID, events.MessagesReconciled, ReconciledPayload{Messages: visible})
}

func (p *Publisher) Dispatched(sessionID, messageID string) {
	p.publish(sessionID, events.QueueDispatched, QueuePayload{MessageID: messageID})
}

func (p *Publisher) QueueError(sessionID, messageID string, err error) {
	p.publish(sessionID, events.QueueError, QueuePayload{MessageID: messageID, Error: err.Error()})
}

func (p *Publisher) Drained(sessionID string) {
	p.publish(sessionID, events.QueueDrained, QueuePayload{})
}
