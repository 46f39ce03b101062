// Package events provides event subjects and bus wiring for portal.
package events

// Subjects for chat activity are scoped per session: chat.<sessionID>.<event>.
const (
	MessageAdded       = "message.added"
	MessageUpdated     = "message.updated"
	MessageRemoved     = "message.removed"
	MessagesReconciled = "messages.reconciled"
	QueueDispatched    = "queue.dispatched"
	QueueError         = "queue.error"
	QueueDrained       = "queue.drained"
)

// SettingsUpdated is published when user preferences change.
const SettingsUpdated = "settings.updated"

// ChatWildcard matches every chat subject for every session.
const ChatWildcard = "chat.>"

const chatPrefix = "chat."

// ChatSubject builds the subject for a chat event within a session.
func ChatSubject(sessionID, eventType string) string {
	return chatPrefix + sessionID + "." + eventType
}

// ParseChatSubject splits a chat subject into session ID and event type.
// Session IDs from the upstream never contain dots.
func ParseChatSubject(subject string) (sessionID, eventType string, ok bool) {
	if len(subject) <= len(chatPrefix) || subject[:len(chatPrefix)] != chatPrefix {
		return "", "", false
	}
	rest := subject[len(chatPrefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			if i == 0 || i == len(rest)-1 {
				return "", "", false
			}
			return rest[:i], rest[i+1:], true
		}
	}
	return "", "", false
}
