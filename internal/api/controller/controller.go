package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/api/dto"
	"github.com/ramarivera/portal/internal/chat"
	"github.com/ramarivera/portal/internal/chat/queue"
	"github.com/ramarivera/portal/internal/chat/store"
	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/mention"
	"github.com/ramarivera/portal/pkg/opencode"
)

// ErrUpstream marks failures of calls to the agent server.
var ErrUpstream = errors.New("upstream request failed")

// ErrInvalidRequest marks malformed input.
var ErrInvalidRequest = errors.New("invalid request")

// Upstream is the part of the agent server API forwarded by the controller.
type Upstream interface {
	ListSessions(ctx context.Context) ([]opencode.Session, error)
	CreateSession(ctx context.Context, title string) (*opencode.Session, error)
	GetSession(ctx context.Context, sessionID string) (*opencode.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	ListMessages(ctx context.Context, sessionID string) ([]opencode.MessageWithParts, error)
	Abort(ctx context.Context, sessionID string)
	ListProviders(ctx context.Context) (*opencode.ProvidersResponse, error)
	CurrentProject(ctx context.Context) (*opencode.Project, error)
}

// ModelDefaults supplies the model used when a prompt names none.
type ModelDefaults interface {
	DefaultModel(ctx context.Context) *queue.ModelRef
}

type Controller struct {
	upstream Upstream
	chat     *chat.Manager
	search   *mention.Searcher
	defaults ModelDefaults
	logger   *logger.Logger
}

func NewController(upstream Upstream, manager *chat.Manager, search *mention.Searcher, defaults ModelDefaults, log *logger.Logger) *Controller {
	return &Controller{
		upstream: upstream,
		chat:     manager,
		search:   search,
		defaults: defaults,
		logger:   log.WithFields(zap.String("component", "api-controller")),
	}
}

func upstreamErr(err error) error {
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

func (c *Controller) ListSessions(ctx context.Context) (dto.SessionsResponse, error) {
	sessions, err := c.upstream.ListSessions(ctx)
	if err != nil {
		return dto.SessionsResponse{}, upstreamErr(err)
	}
	out := make([]dto.SessionDTO, 0, len(sessions))
	for i := range sessions {
		out = append(out, dto.FromSession(&sessions[i]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return dto.SessionsResponse{Sessions: out, Total: len(out)}, nil
}

func (c *Controller) CreateSession(ctx context.Context, req dto.CreateSessionRequest) (dto.SessionDTO, error) {
	session, err := c.upstream.CreateSession(ctx, strings.TrimSpace(req.Title))
	if err != nil {
		return dto.SessionDTO{}, upstreamErr(err)
	}
	return dto.FromSession(session), nil
}

func (c *Controller) GetSession(ctx context.Context, sessionID string) (dto.SessionDTO, error) {
	session, err := c.upstream.GetSession(ctx, sessionID)
	if err != nil {
		return dto.SessionDTO{}, upstreamErr(err)
	}
	return dto.FromSession(session), nil
}

// DeleteSession deletes the session upstream and drops its local state.
func (c *Controller) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.upstream.DeleteSession(ctx, sessionID); err != nil {
		return upstreamErr(err)
	}
	c.chat.Discard(sessionID)
	return nil
}

// AbortSession stops the prompt the agent is running for the session.
func (c *Controller) AbortSession(ctx context.Context, sessionID string) {
	c.upstream.Abort(ctx, sessionID)
}

// ListMessages returns the visible messages of a session. Open sessions are
// reconciled first and include optimistic records; others are read straight
// from the upstream without being cached.
func (c *Controller) ListMessages(ctx context.Context, sessionID string) (dto.MessagesResponse, error) {
	if c.chat.IsOpen(sessionID) {
		if err := c.chat.Reconcile(ctx, sessionID); err != nil {
			return dto.MessagesResponse{}, upstreamErr(err)
		}
		return dto.MessagesResponse{SessionID: sessionID, Messages: c.chat.Store().Visible(sessionID)}, nil
	}

	raw, err := c.upstream.ListMessages(ctx, sessionID)
	if err != nil {
		return dto.MessagesResponse{}, upstreamErr(err)
	}
	msgs := make([]store.Message, 0, len(raw))
	for _, m := range raw {
		msgs = append(msgs, chat.ConvertMessage(m))
	}
	return dto.MessagesResponse{SessionID: sessionID, Messages: store.FilterVisible(msgs)}, nil
}

// Enqueue queues a prompt. Without an explicit model the one selected in
// settings is used.
func (c *Controller) Enqueue(ctx context.Context, sessionID string, req dto.EnqueueRequest) (dto.EnqueueResponse, error) {
	model := req.Model.ToModelRef()
	if model == nil && c.defaults != nil {
		model = c.defaults.DefaultModel(ctx)
	}
	msg, err := c.chat.Enqueue(ctx, sessionID, req.Text, model)
	if err != nil {
		return dto.EnqueueResponse{}, err
	}
	c.logger.Debug("prompt queued",
		zap.String("session_id", sessionID),
		zap.String("message_id", msg.ID))
	return dto.EnqueueResponse{Message: *msg}, nil
}

func (c *Controller) QueueStatus(sessionID string) dto.QueueStatusResponse {
	return dto.QueueStatusResponse{Queue: c.chat.Status(sessionID)}
}

func (c *Controller) CancelQueued(sessionID, messageID string) (dto.EnqueueResponse, error) {
	msg, err := c.chat.Cancel(sessionID, messageID)
	if err != nil {
		return dto.EnqueueResponse{}, err
	}
	return dto.EnqueueResponse{Message: *msg}, nil
}

// DiscardScope drops the queue and cached messages of a session.
func (c *Controller) DiscardScope(sessionID string) bool {
	return c.chat.Discard(sessionID)
}

// ListModels flattens the upstream providers into one list sorted by
// provider and model.
func (c *Controller) ListModels(ctx context.Context) (dto.ModelsResponse, error) {
	resp, err := c.upstream.ListProviders(ctx)
	if err != nil {
		return dto.ModelsResponse{}, upstreamErr(err)
	}

	var models []dto.ModelDTO
	for _, p := range resp.Providers {
		for key, m := range p.Models {
			id := m.ID
			if id == "" {
				id = key
			}
			name := m.Name
			if name == "" {
				name = id
			}
			models = append(models, dto.ModelDTO{
				ProviderID:   p.ID,
				ProviderName: p.Name,
				ModelID:      id,
				ModelName:    name,
				Default:      resp.Default[p.ID] == id,
			})
		}
	}
	sort.Slice(models, func(i, j int) bool {
		if models[i].ProviderID != models[j].ProviderID {
			return models[i].ProviderID < models[j].ProviderID
		}
		return models[i].ModelID < models[j].ModelID
	})
	if models == nil {
		models = []dto.ModelDTO{}
	}
	return dto.ModelsResponse{Models: models}, nil
}

func (c *Controller) Project(ctx context.Context) (dto.ProjectDTO, error) {
	project, err := c.upstream.CurrentProject(ctx)
	if err != nil {
		return dto.ProjectDTO{}, upstreamErr(err)
	}
	return dto.FromProject(project), nil
}

func (c *Controller) SearchFiles(ctx context.Context, query string) (dto.FilesResponse, error) {
	files, err := c.search.Find(ctx, query)
	if err != nil {
		return dto.FilesResponse{}, upstreamErr(err)
	}
	return dto.FilesResponse{Query: query, Files: files}, nil
}

// NewFileQuery creates a debounced search whose results go to deliver.
func (c *Controller) NewFileQuery(deliver func(mention.Result)) *mention.Query {
	return c.search.NewQuery(deliver)
}

func (c *Controller) MentionContext(req dto.MentionContextRequest) (dto.MentionContextResponse, error) {
	unit, err := mention.ParseUnit(req.Unit)
	if err != nil {
		return dto.MentionContextResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	ctx := mention.ComputeContext(req.Text, unit.ToRunes(req.Text, req.Cursor))
	if ctx.Active {
		ctx.AnchorOffset = unit.FromRunes(req.Text, ctx.AnchorOffset)
	}
	return dto.MentionContextResponse{Context: ctx}, nil
}

func (c *Controller) MentionApply(req dto.MentionApplyRequest) (dto.MentionApplyResponse, error) {
	if req.Path == "" {
		return dto.MentionApplyResponse{}, fmt.Errorf("%w: path is required", ErrInvalidRequest)
	}
	unit, err := mention.ParseUnit(req.Unit)
	if err != nil {
		return dto.MentionApplyResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	anchor := unit.ToRunes(req.Text, req.Anchor)
	queryLen := unit.ToRunes(req.Text, req.Anchor+1+req.QueryLength) - anchor - 1
	text, cursor := mention.ApplySelection(req.Text, anchor, queryLen, req.Path, req.TrailingSpace)
	return dto.MentionApplyResponse{Text: text, Cursor: unit.FromRunes(text, cursor)}, nil
}
