package websocket

// Request actions handled by the gateway.
const (
	ActionHealthCheck = "health.check"

	ActionSessionSubscribe   = "session.subscribe"
	ActionSessionUnsubscribe = "session.unsubscribe"

	ActionMessageEnqueue = "message.enqueue"
	ActionMessageList    = "message.list"

	ActionQueueStatus = "queue.status"
	ActionQueueCancel = "queue.cancel"

	ActionFilesSearch    = "files.search"
	ActionMentionContext = "mention.context"
	ActionMentionApply   = "mention.apply"

	ActionSettingsGet    = "settings.get"
	ActionSettingsUpdate = "settings.update"
)

// Notification actions pushed without a request.
const (
	ActionFilesResults = "files.results"
)

// Error codes carried in ErrorPayload.Code.
const (
	ErrorCodeBadRequest    = "BAD_REQUEST"
	ErrorCodeNotFound      = "NOT_FOUND"
	ErrorCodeInternalError = "INTERNAL_ERROR"
	ErrorCodeUpstream      = "UPSTREAM_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeUnknownAction = "UNKNOWN_ACTION"
)
