package handlers

import (
	"errors"
	"net/http"

	"github.com/ramarivera/portal/internal/api/controller"
	"github.com/ramarivera/portal/internal/chat"
	"github.com/ramarivera/portal/internal/chat/queue"
	"github.com/ramarivera/portal/pkg/opencode"
	ws "github.com/ramarivera/portal/pkg/websocket"
)

// classify maps an error to an HTTP status and a WebSocket error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, queue.ErrEmptyMessage), errors.Is(err, controller.ErrInvalidRequest):
		return http.StatusBadRequest, ws.ErrorCodeValidation
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, chat.ErrScopeNotFound), opencode.IsNotFound(err):
		return http.StatusNotFound, ws.ErrorCodeNotFound
	case errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable, ws.ErrorCodeInternalError
	case errors.Is(err, controller.ErrUpstream):
		return http.StatusBadGateway, ws.ErrorCodeUpstream
	}
	return http.StatusInternalServerError, ws.ErrorCodeInternalError
}
