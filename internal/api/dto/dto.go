package dto

import (
	"time"

	"github.com/ramarivera/portal/internal/chat/queue"
	"github.com/ramarivera/portal/internal/chat/store"
	"github.com/ramarivera/portal/internal/mention"
	"github.com/ramarivera/portal/pkg/opencode"
)

type SessionDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ParentID  string    `json:"parent_id,omitempty"`
	Directory string    `json:"directory,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SessionsResponse struct {
	Sessions []SessionDTO `json:"sessions"`
	Total    int          `json:"total"`
}

type CreateSessionRequest struct {
	Title string `json:"title"`
}

type MessagesResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []store.Message `json:"messages"`
}

type ModelRefDTO struct {
	ProviderID string `json:"provider_id"`
	ModelID    string `json:"model_id"`
}

type EnqueueRequest struct {
	Text  string       `json:"text"`
	Model *ModelRefDTO `json:"model,omitempty"`
}

type EnqueueResponse struct {
	Message queue.QueuedMessage `json:"message"`
}

type QueueStatusResponse struct {
	Queue queue.Status `json:"queue"`
}

type ModelDTO struct {
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	ModelID      string `json:"model_id"`
	ModelName    string `json:"model_name"`
	Default      bool   `json:"default"`
}

type ModelsResponse struct {
	Models []ModelDTO `json:"models"`
}

type ProjectDTO struct {
	ID       string `json:"id"`
	Worktree string `json:"worktree"`
	VCS      string `json:"vcs,omitempty"`
}

type FilesResponse struct {
	Query string   `json:"query"`
	Files []string `json:"files"`
}

// MentionContextRequest asks for the mention at Cursor. Unit selects how
// offsets are counted in both directions: "rune" (default) or "utf16" for
// browser selectionStart values.
type MentionContextRequest struct {
	Text   string `json:"text"`
	Cursor int    `json:"cursor"`
	Unit   string `json:"unit,omitempty"`
}

// MentionApplyRequest offsets (Anchor, QueryLength) and the returned Cursor
// are counted in Unit, as in MentionContextRequest.
type MentionApplyRequest struct {
	Text          string `json:"text"`
	Anchor        int    `json:"anchor"`
	QueryLength   int    `json:"query_length"`
	Path          string `json:"path"`
	TrailingSpace bool   `json:"trailing_space"`
	Unit          string `json:"unit,omitempty"`
}

type MentionApplyResponse struct {
	Text   string `json:"text"`
	Cursor int    `json:"cursor"`
}

// MentionContextResponse carries AnchorOffset in the request's unit.
type MentionContextResponse struct {
	Context mention.Context `json:"context"`
}

func FromSession(s *opencode.Session) SessionDTO {
	return SessionDTO{
		ID:        s.ID,
		Title:     s.Title,
		ParentID:  s.ParentID,
		Directory: s.Directory,
		CreatedAt: fromMillis(s.Time.Created),
		UpdatedAt: fromMillis(s.Time.Updated),
	}
}

func FromProject(p *opencode.Project) ProjectDTO {
	return ProjectDTO{ID: p.ID, Worktree: p.Worktree, VCS: p.VCS}
}

func (m *ModelRefDTO) ToModelRef() *queue.ModelRef {
	if m == nil || m.ProviderID == "" || m.ModelID == "" {
		return nil
	}
	return &queue.ModelRef{ProviderID: m.ProviderID, ModelID: m.ModelID}
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
