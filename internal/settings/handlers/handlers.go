package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/settings/controller"
	"github.com/ramarivera/portal/internal/settings/dto"
	"github.com/ramarivera/portal/internal/settings/service"
	ws "github.com/ramarivera/portal/pkg/websocket"
)

type Handlers struct {
	controller *controller.Controller
	logger     *logger.Logger
}

func NewHandlers(ctrl *controller.Controller, log *logger.Logger) *Handlers {
	return &Handlers{
		controller: ctrl,
		logger:     log.WithFields(zap.String("component", "settings-handlers")),
	}
}

func RegisterRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, ctrl *controller.Controller, log *logger.Logger) {
	h := NewHandlers(ctrl, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
}

func (h *Handlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/settings", h.httpGetSettings)
	api.PATCH("/settings", h.httpUpdateSettings)
}

func (h *Handlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionSettingsGet, h.wsGetSettings)
	dispatcher.RegisterFunc(ws.ActionSettingsUpdate, h.wsUpdateSettings)
}

func (h *Handlers) httpGetSettings(c *gin.Context) {
	resp, err := h.controller.GetSettings(c.Request.Context())
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to get settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get settings"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpUpdateSettings(c *gin.Context) {
	var body dto.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, err := h.controller.UpdateSettings(c.Request.Context(), body)
	if errors.Is(err, service.ErrInvalidSettings) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Error("failed to update settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update settings"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) wsGetSettings(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	resp, err := h.controller.GetSettings(ctx)
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to get settings", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsUpdateSettings(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.UpdateSettingsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}
	resp, err := h.controller.UpdateSettings(ctx, req)
	if errors.Is(err, service.ErrInvalidSettings) {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, err.Error(), nil)
	}
	if err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeInternalError, "Failed to update settings", nil)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}
