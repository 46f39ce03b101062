package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/api/controller"
	"github.com/ramarivera/portal/internal/api/dto"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/mention"
	ws "github.com/ramarivera/portal/pkg/websocket"
)

type Handlers struct {
	controller *controller.Controller
	logger     *logger.Logger

	// Debounced file searches, one per WebSocket peer.
	queriesMu sync.Mutex
	queries   map[string]*mention.Query
}

func NewHandlers(ctrl *controller.Controller, log *logger.Logger) *Handlers {
	return &Handlers{
		controller: ctrl,
		logger:     log.WithFields(zap.String("component", "api-handlers")),
		queries:    make(map[string]*mention.Query),
	}
}

func RegisterRoutes(router *gin.Engine, dispatcher *ws.Dispatcher, ctrl *controller.Controller, log *logger.Logger) *Handlers {
	h := NewHandlers(ctrl, log)
	h.registerHTTP(router)
	h.registerWS(dispatcher)
	return h
}

func (h *Handlers) registerHTTP(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/sessions", h.httpListSessions)
	api.POST("/sessions", h.httpCreateSession)
	api.GET("/sessions/:id", h.httpGetSession)
	api.DELETE("/sessions/:id", h.httpDeleteSession)
	api.POST("/sessions/:id/abort", h.httpAbortSession)
	api.GET("/sessions/:id/messages", h.httpListMessages)
	api.POST("/sessions/:id/messages", h.httpEnqueue)
	api.GET("/sessions/:id/queue", h.httpQueueStatus)
	api.DELETE("/sessions/:id/queue/:messageId", h.httpCancelQueued)
	api.DELETE("/sessions/:id/scope", h.httpDiscardScope)
	api.GET("/models", h.httpListModels)
	api.GET("/project", h.httpProject)
	api.GET("/files", h.httpSearchFiles)
	api.POST("/mention/context", h.httpMentionContext)
	api.POST("/mention/apply", h.httpMentionApply)
}

func (h *Handlers) registerWS(dispatcher *ws.Dispatcher) {
	dispatcher.RegisterFunc(ws.ActionMessageEnqueue, h.wsEnqueue)
	dispatcher.RegisterFunc(ws.ActionMessageList, h.wsListMessages)
	dispatcher.RegisterFunc(ws.ActionQueueStatus, h.wsQueueStatus)
	dispatcher.RegisterFunc(ws.ActionQueueCancel, h.wsCancelQueued)
	dispatcher.RegisterFunc(ws.ActionFilesSearch, h.wsSearchFiles)
	dispatcher.RegisterFunc(ws.ActionMentionContext, h.wsMentionContext)
	dispatcher.RegisterFunc(ws.ActionMentionApply, h.wsMentionApply)
}

func (h *Handlers) httpError(c *gin.Context, op string, err error) {
	status, _ := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(c.Request.Context()).Error(op+" failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handlers) httpListSessions(c *gin.Context) {
	resp, err := h.controller.ListSessions(c.Request.Context())
	if err != nil {
		h.httpError(c, "list sessions", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpCreateSession(c *gin.Context) {
	var body dto.CreateSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	resp, err := h.controller.CreateSession(c.Request.Context(), body)
	if err != nil {
		h.httpError(c, "create session", err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handlers) httpGetSession(c *gin.Context) {
	resp, err := h.controller.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.httpError(c, "get session", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpDeleteSession(c *gin.Context) {
	if err := h.controller.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		h.httpError(c, "delete session", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) httpAbortSession(c *gin.Context) {
	h.controller.AbortSession(c.Request.Context(), c.Param("id"))
	c.Status(http.StatusAccepted)
}

func (h *Handlers) httpListMessages(c *gin.Context) {
	resp, err := h.controller.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.httpError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpEnqueue(c *gin.Context) {
	var body dto.EnqueueRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, err := h.controller.Enqueue(c.Request.Context(), c.Param("id"), body)
	if err != nil {
		h.httpError(c, "enqueue", err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

func (h *Handlers) httpQueueStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.QueueStatus(c.Param("id")))
}

func (h *Handlers) httpCancelQueued(c *gin.Context) {
	resp, err := h.controller.CancelQueued(c.Param("id"), c.Param("messageId"))
	if err != nil {
		h.httpError(c, "cancel queued message", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpDiscardScope(c *gin.Context) {
	if !h.controller.DiscardScope(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session scope not open"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) httpListModels(c *gin.Context) {
	resp, err := h.controller.ListModels(c.Request.Context())
	if err != nil {
		h.httpError(c, "list models", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpProject(c *gin.Context) {
	resp, err := h.controller.Project(c.Request.Context())
	if err != nil {
		h.httpError(c, "get project", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpSearchFiles(c *gin.Context) {
	resp, err := h.controller.SearchFiles(c.Request.Context(), c.Query("query"))
	if err != nil {
		h.httpError(c, "search files", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpMentionContext(c *gin.Context) {
	var body dto.MentionContextRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, err := h.controller.MentionContext(body)
	if err != nil {
		h.httpError(c, "mention context", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) httpMentionApply(c *gin.Context) {
	var body dto.MentionApplyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	resp, err := h.controller.MentionApply(body)
	if err != nil {
		h.httpError(c, "apply mention", err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Close stops every pending debounced search.
func (h *Handlers) Close() {
	h.queriesMu.Lock()
	defer h.queriesMu.Unlock()
	for id, q := range h.queries {
		q.Close()
		delete(h.queries, id)
	}
}

// fileQuery returns the debounced search of peer, creating it on first use.
// It is closed when the peer disconnects.
func (h *Handlers) fileQuery(peer ws.Peer) *mention.Query {
	h.queriesMu.Lock()
	defer h.queriesMu.Unlock()

	if q, ok := h.queries[peer.PeerID()]; ok {
		return q
	}
	q := h.controller.NewFileQuery(func(r mention.Result) {
		payload := filesResultsPayload{Seq: r.Seq, Query: r.Query, Files: r.Paths}
		if payload.Files == nil {
			payload.Files = []string{}
		}
		if r.Err != nil {
			payload.Error = r.Err.Error()
		}
		msg, err := ws.NewNotification(ws.ActionFilesResults, payload)
		if err != nil {
			h.logger.Error("failed to build files.results", zap.Error(err))
			return
		}
		peer.Notify(msg)
	})
	h.queries[peer.PeerID()] = q

	go func() {
		<-peer.Closed()
		h.queriesMu.Lock()
		if h.queries[peer.PeerID()] == q {
			delete(h.queries, peer.PeerID())
		}
		h.queriesMu.Unlock()
		q.Close()
	}()
	return q
}

type filesResultsPayload struct {
	Seq   uint64   `json:"seq"`
	Query string   `json:"query"`
	Files []string `json:"files"`
	Error string   `json:"error,omitempty"`
}

func wsError(msg *ws.Message, err error) (*ws.Message, error) {
	_, code := classify(err)
	return ws.NewError(msg.ID, msg.Action, code, err.Error(), nil)
}

func badPayload(msg *ws.Message, err error) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
}

func missingSession(msg *ws.Message) (*ws.Message, error) {
	return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "session_id is required", nil)
}

type wsSessionRequest struct {
	SessionID string `json:"session_id"`
}

type wsEnqueueRequest struct {
	SessionID string           `json:"session_id"`
	Text      string           `json:"text"`
	Model     *dto.ModelRefDTO `json:"model,omitempty"`
}

type wsCancelRequest struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
}

type wsFilesSearchRequest struct {
	Query string `json:"query"`
}

func (h *Handlers) wsEnqueue(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsEnqueueRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badPayload(msg, err)
	}
	if req.SessionID == "" {
		return missingSession(msg)
	}
	resp, err := h.controller.Enqueue(ctx, req.SessionID, dto.EnqueueRequest{Text: req.Text, Model: req.Model})
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsListMessages(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badPayload(msg, err)
	}
	if req.SessionID == "" {
		return missingSession(msg)
	}
	resp, err := h.controller.ListMessages(ctx, req.SessionID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsQueueStatus(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsSessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badPayload(msg, err)
	}
	if req.SessionID == "" {
		return missingSession(msg)
	}
	return ws.NewResponse(msg.ID, msg.Action, h.controller.QueueStatus(req.SessionID))
}

func (h *Handlers) wsCancelQueued(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsCancelRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badPayload(msg, err)
	}
	if req.SessionID == "" {
		return missingSession(msg)
	}
	resp, err := h.controller.CancelQueued(req.SessionID, req.MessageID)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

// wsSearchFiles debounces searches per connection: the response only
// acknowledges the query, and results follow as a files.results
// notification for the latest query. Requests that did not come over a
// connection are answered directly.
func (h *Handlers) wsSearchFiles(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req wsFilesSearchRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badPayload(msg, err)
	}

	peer, ok := ws.PeerFrom(ctx)
	if !ok {
		resp, err := h.controller.SearchFiles(ctx, req.Query)
		if err != nil {
			return wsError(msg, err)
		}
		return ws.NewResponse(msg.ID, msg.Action, resp)
	}

	seq := h.fileQuery(peer).Update(req.Query)
	return ws.NewResponse(msg.ID, msg.Action, map[string]any{"seq": seq, "query": req.Query})
}

func (h *Handlers) wsMentionContext(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.MentionContextRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badPayload(msg, err)
	}
	resp, err := h.controller.MentionContext(req)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}

func (h *Handlers) wsMentionApply(_ context.Context, msg *ws.Message) (*ws.Message, error) {
	var req dto.MentionApplyRequest
	if err := msg.ParsePayload(&req); err != nil {
		return badPayload(msg, err)
	}
	resp, err := h.controller.MentionApply(req)
	if err != nil {
		return wsError(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, resp)
}
