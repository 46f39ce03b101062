package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/events"
	"github.com/ramarivera/portal/internal/events/bus"
	ws "github.com/ramarivera/portal/pkg/websocket"
)

// ChatBroadcaster forwards chat events from the bus to the clients watching
// the affected session, and settings changes to every client.
type ChatBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterChatNotifications subscribes the hub to chat and settings events.
// Subscriptions are released when ctx is cancelled.
func RegisterChatNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *ChatBroadcaster {
	b := &ChatBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-chat-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribe(eventBus, events.ChatWildcard, b.forwardChat)
	b.subscribe(eventBus, events.SettingsUpdated, b.forwardSettings)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close drops all bus subscriptions.
func (b *ChatBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *ChatBroadcaster) subscribe(eventBus bus.EventBus, subject string, handler bus.EventHandler) {
	sub, err := eventBus.Subscribe(subject, handler)
	if err != nil {
		b.logger.Error("Failed to subscribe to events",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

// forwardChat relays chat.<session>.<event> as a notification whose action is
// the event type.
func (b *ChatBroadcaster) forwardChat(_ context.Context, event *bus.Event) error {
	sessionID, eventType, ok := events.ParseChatSubject(event.Subject)
	if !ok {
		return nil
	}
	msg, err := ws.NewNotification(eventType, map[string]any{
		"session_id": sessionID,
		"data":       event.Data,
	})
	if err != nil {
		return err
	}
	b.hub.BroadcastToSession(sessionID, msg)
	return nil
}

func (b *ChatBroadcaster) forwardSettings(_ context.Context, event *bus.Event) error {
	msg, err := ws.NewNotification(events.SettingsUpdated, event.Data)
	if err != nil {
		return err
	}
	b.hub.Broadcast(msg)
	return nil
}
