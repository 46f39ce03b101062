// Package opencode provides types and a client for the OpenCode server API.
// OpenCode uses a REST API plus Server-Sent Events for live updates.
package opencode

import (
	"encoding/json"
)

// SDK event types from the /event SSE stream.
const (
	SDKEventMessageUpdated     = "message.updated"
	SDKEventMessagePartUpdated = "message.part.updated"
	SDKEventMessageRemoved     = "message.removed"
	SDKEventSessionIdle        = "session.idle"
	SDKEventSessionError       = "session.error"
	SDKEventSessionUpdated     = "session.updated"
	SDKEventSessionDeleted     = "session.deleted"
)

// Part types
const (
	PartTypeText      = "text"
	PartTypeReasoning = "reasoning"
	PartTypeTool      = "tool"
	PartTypeFile      = "file"
)

// HealthResponse from GET /global/health
type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}

// Session as returned by /session endpoints.
type Session struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	ProjectID string      `json:"projectID,omitempty"`
	Directory string      `json:"directory,omitempty"`
	ParentID  string      `json:"parentID,omitempty"`
	Time      SessionTime `json:"time"`
}

// SessionTime holds unix millisecond timestamps.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// CreateSessionRequest for POST /session
type CreateSessionRequest struct {
	Title string `json:"title,omitempty"`
}

// ModelSpec for prompt requests
type ModelSpec struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// TextPartInput for prompt request parts
type TextPartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PromptRequest for POST /session/{id}/message
type PromptRequest struct {
	Model *ModelSpec      `json:"model,omitempty"`
	Parts []TextPartInput `json:"parts"`
}

// MessageWithParts is one entry of GET /session/{id}/message and the
// response of a prompt.
type MessageWithParts struct {
	Info  MessageInfo `json:"info"`
	Parts []Part      `json:"parts"`
}

// MessageInfo contains message metadata
type MessageInfo struct {
	ID         string      `json:"id"`
	SessionID  string      `json:"sessionID"`
	Role       string      `json:"role"` // "user", "assistant"
	ProviderID string      `json:"providerID,omitempty"`
	ModelID    string      `json:"modelID,omitempty"`
	Time       MessageTime `json:"time"`
	Error      *SDKError   `json:"error,omitempty"`
}

// MessageTime holds unix millisecond timestamps.
type MessageTime struct {
	Created   int64 `json:"created"`
	Completed int64 `json:"completed,omitempty"`
}

// Part represents a message part (text, reasoning, tool, file, step markers).
type Part struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	MessageID string           `json:"messageID"`
	SessionID string           `json:"sessionID"`
	Text      string           `json:"text,omitempty"`   // text/reasoning
	CallID    string           `json:"callID,omitempty"` // tool
	Tool      string           `json:"tool,omitempty"`   // tool
	State     *ToolStateUpdate `json:"state,omitempty"`  // tool
}

// ToolStateUpdate represents tool execution state
type ToolStateUpdate struct {
	Status string          `json:"status"` // "pending", "running", "completed", "error"
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`
	Title  string          `json:"title,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SDKError represents an error from the SDK
type SDKError struct {
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`
	Data    *struct {
		Message string `json:"message,omitempty"`
	} `json:"data,omitempty"`
}

// GetMessage returns the error message
func (e *SDKError) GetMessage() string {
	if e.Data != nil && e.Data.Message != "" {
		return e.Data.Message
	}
	return e.Message
}

// ProvidersResponse from GET /config/providers
type ProvidersResponse struct {
	Providers []Provider `json:"providers"`
	// Default maps provider ID to its default model ID.
	Default map[string]string `json:"default"`
}

// Provider contains provider information
type Provider struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Models map[string]Model `json:"models,omitempty"`
}

// Model contains model information from a provider
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Project from GET /project/current
type Project struct {
	ID       string `json:"id"`
	Worktree string `json:"worktree"`
	VCS      string `json:"vcs,omitempty"`
}

// SDKEventEnvelope is the base structure for all SSE events
type SDKEventEnvelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

// SessionID extracts the session an event refers to, or "" when the event
// is not session scoped.
func (e *SDKEventEnvelope) SessionID() string {
	if len(e.Properties) == 0 {
		return ""
	}
	var props struct {
		SessionID string `json:"sessionID"`
		Info      *struct {
			ID        string `json:"id"`
			SessionID string `json:"sessionID"`
		} `json:"info"`
		Part *struct {
			SessionID string `json:"sessionID"`
		} `json:"part"`
	}
	if err := json.Unmarshal(e.Properties, &props); err != nil {
		return ""
	}
	switch {
	case props.SessionID != "":
		return props.SessionID
	case props.Part != nil:
		return props.Part.SessionID
	case props.Info != nil && props.Info.SessionID != "":
		return props.Info.SessionID
	case props.Info != nil && (e.Type == SDKEventSessionUpdated || e.Type == SDKEventSessionDeleted):
		return props.Info.ID
	}
	return ""
}

// ParseSDKEvent parses an SDK event from JSON
func ParseSDKEvent(data []byte) (*SDKEventEnvelope, error) {
	var env SDKEventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
