package websocket

import (
	"github.com/gin-gonic/gin"

	"github.com/ramarivera/portal/internal/common/logger"
	ws "github.com/ramarivera/portal/pkg/websocket"
)

// Gateway bundles the hub, dispatcher and connection handler.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	Handler    *Handler
}

// NewGateway creates a new WebSocket gateway with all components initialized.
func NewGateway(log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	hub := NewHub(dispatcher, log)
	handler := NewHandler(hub, log)

	RegisterHealthHandler(dispatcher, hub)

	return &Gateway{
		Hub:        hub,
		Dispatcher: dispatcher,
		Handler:    handler,
	}
}

// Path is where browsers open the WebSocket.
const Path = "/ws"

// SetupRoutes mounts the WebSocket endpoint.
func (g *Gateway) SetupRoutes(router gin.IRoutes) {
	router.GET(Path, g.Handler.HandleConnection)
}
