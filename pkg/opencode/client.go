package opencode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/tracing"
)

const (
	defaultTimeout = 30 * time.Second
	promptTimeout  = 60 * time.Minute
	healthDeadline = 20 * time.Second
	healthInterval = 150 * time.Millisecond
	maxEventSize   = 1024 * 1024
)

// Options configures a Client.
type Options struct {
	BaseURL   string
	Directory string
	Password  string
	// Timeout bounds ordinary requests. Prompts use a longer fixed timeout.
	Timeout time.Duration
}

// Client manages HTTP communication with an OpenCode server.
type Client struct {
	baseURL      string
	directory    string
	password     string
	httpClient   *http.Client
	promptClient *http.Client
	sseClient    *http.Client
	tracer       trace.Tracer
	logger       *logger.Logger
}

// EventHandler is called for each SDK event from the SSE stream.
type EventHandler func(event *SDKEventEnvelope)

// NewClient creates a new OpenCode HTTP client.
func NewClient(opts Options, log *logger.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:      strings.TrimSuffix(opts.BaseURL, "/"),
		directory:    opts.Directory,
		password:     opts.Password,
		httpClient:   &http.Client{Timeout: timeout},
		promptClient: &http.Client{Timeout: promptTimeout},
		sseClient:    &http.Client{},
		tracer:       tracing.Tracer("opencode"),
		logger:       log.WithFields(zap.String("component", "opencode-client")),
	}
}

// buildAuthHeader creates the Basic auth header value
func (c *Client) buildAuthHeader() string {
	credentials := base64.StdEncoding.EncodeToString([]byte("opencode:" + c.password))
	return "Basic " + credentials
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	if query == nil {
		query = url.Values{}
	}
	if c.directory != "" {
		query.Set("directory", c.directory)
	}
	target := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.password != "" {
		req.Header.Set("Authorization", c.buildAuthHeader())
	}
	if c.directory != "" {
		req.Header.Set("X-OpenCode-Directory", c.directory)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// call performs a request and decodes a JSON response into out (when non-nil).
func (c *Client) call(ctx context.Context, client *http.Client, op, method, path string, query url.Values, in, out any) error {
	ctx, span := c.tracer.Start(ctx, "opencode."+op, trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("opencode.path", path),
	))
	defer span.End()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s request: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
		span.SetStatus(codes.Error, httpErr.Error())
		return httpErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	return nil
}

// Health checks the server once.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var health HealthResponse
	if err := c.call(ctx, c.httpClient, "health", http.MethodGet, "/global/health", nil, nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// WaitForHealth polls until the OpenCode server reports healthy.
func (c *Client) WaitForHealth(ctx context.Context) error {
	deadline := time.Now().Add(healthDeadline)
	var lastErr error

	for time.Now().Before(deadline) {
		health, err := c.Health(ctx)
		switch {
		case err != nil:
			lastErr = err
			c.logger.Debug("health check request failed", zap.Error(err))
		case health.Healthy:
			c.logger.Info("OpenCode server healthy", zap.String("version", health.Version))
			return nil
		default:
			lastErr = fmt.Errorf("server unhealthy (version %s)", health.Version)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthInterval):
		}
	}

	if lastErr != nil {
		return fmt.Errorf("health check timeout: %w", lastErr)
	}
	return fmt.Errorf("health check timeout")
}

// ListSessions returns every session of the current project.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := c.call(ctx, c.httpClient, "list sessions", http.MethodGet, "/session", nil, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// CreateSession creates a new OpenCode session.
func (c *Client) CreateSession(ctx context.Context, title string) (*Session, error) {
	var session Session
	req := CreateSessionRequest{Title: title}
	if err := c.call(ctx, c.httpClient, "create session", http.MethodPost, "/session", nil, req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession returns a single session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	path := "/session/" + url.PathEscape(sessionID)
	if err := c.call(ctx, c.httpClient, "get session", http.MethodGet, path, nil, nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// DeleteSession removes a session upstream.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	path := "/session/" + url.PathEscape(sessionID)
	return c.call(ctx, c.httpClient, "delete session", http.MethodDelete, path, nil, nil, nil)
}

// ListMessages returns the authoritative, ordered message list of a session.
func (c *Client) ListMessages(ctx context.Context, sessionID string) ([]MessageWithParts, error) {
	var messages []MessageWithParts
	path := fmt.Sprintf("/session/%s/message", url.PathEscape(sessionID))
	if err := c.call(ctx, c.httpClient, "list messages", http.MethodGet, path, nil, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// SendPrompt sends a prompt to the session and blocks until the agent has
// finished replying. Prompts can take minutes, so a dedicated long-timeout
// client is used.
func (c *Client) SendPrompt(ctx context.Context, sessionID, prompt string, model *ModelSpec) (*MessageWithParts, error) {
	req := PromptRequest{
		Model: model,
		Parts: []TextPartInput{{Type: PartTypeText, Text: prompt}},
	}

	var raw json.RawMessage
	path := fmt.Sprintf("/session/%s/message", url.PathEscape(sessionID))
	if err := c.call(ctx, c.promptClient, "prompt", http.MethodPost, path, nil, req, &raw); err != nil {
		return nil, err
	}
	return parsePromptResponse(raw)
}

// parsePromptResponse accepts {info, parts} and turns {name, data} into a
// PromptError.
func parsePromptResponse(raw json.RawMessage) (*MessageWithParts, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("prompt returned empty response")
	}

	var envelope struct {
		Info  *MessageInfo `json:"info"`
		Parts []Part       `json:"parts"`
		Name  string       `json:"name"`
		Data  *struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("parse prompt response: %w", err)
	}

	if envelope.Info != nil {
		if envelope.Info.Error != nil {
			return nil, &PromptError{Name: envelope.Info.Error.Name, Message: envelope.Info.Error.GetMessage()}
		}
		return &MessageWithParts{Info: *envelope.Info, Parts: envelope.Parts}, nil
	}
	if envelope.Name != "" {
		message := "unknown error"
		if envelope.Data != nil && envelope.Data.Message != "" {
			message = envelope.Data.Message
		}
		return nil, &PromptError{Name: envelope.Name, Message: message}
	}
	return nil, fmt.Errorf("prompt returned unexpected response")
}

// Abort stops the current operation of a session. Errors are ignored.
func (c *Client) Abort(ctx context.Context, sessionID string) {
	abortCtx, cancel := context.WithTimeout(ctx, 800*time.Millisecond)
	defer cancel()

	path := fmt.Sprintf("/session/%s/abort", url.PathEscape(sessionID))
	if err := c.call(abortCtx, c.httpClient, "abort", http.MethodPost, path, nil, nil, nil); err != nil {
		c.logger.Debug("abort failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// ListProviders returns the configured providers and their models.
func (c *Client) ListProviders(ctx context.Context) (*ProvidersResponse, error) {
	var providers ProvidersResponse
	if err := c.call(ctx, c.httpClient, "list providers", http.MethodGet, "/config/providers", nil, nil, &providers); err != nil {
		return nil, err
	}
	return &providers, nil
}

// CurrentProject returns the project the server is bound to.
func (c *Client) CurrentProject(ctx context.Context) (*Project, error) {
	var project Project
	if err := c.call(ctx, c.httpClient, "current project", http.MethodGet, "/project/current", nil, nil, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// FindFiles runs the upstream fuzzy file search.
func (c *Client) FindFiles(ctx context.Context, query string) ([]string, error) {
	var paths []string
	q := url.Values{"query": []string{query}}
	if err := c.call(ctx, c.httpClient, "find files", http.MethodGet, "/find/file", q, nil, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

// SubscribeEvents connects to the SSE stream and calls handler for each
// event until the stream ends or ctx is cancelled. It returns nil when ctx
// is cancelled and io.EOF when the server closes the stream.
func (c *Client) SubscribeEvents(ctx context.Context, handler EventHandler) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/event", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.sseClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{Op: "event stream", Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	c.logger.Debug("SSE stream connected")
	err = c.processEventStream(resp.Body, handler)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// processEventStream reads "data:" lines, dispatching on each blank line.
func (c *Client) processEventStream(body io.Reader, handler EventHandler) error {
	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxEventSize)

	var dataBuffer strings.Builder
	flush := func() {
		data := strings.TrimSpace(dataBuffer.String())
		dataBuffer.Reset()
		if data == "" {
			return
		}
		event, err := ParseSDKEvent([]byte(data))
		if err != nil {
			c.logger.Warn("failed to parse SDK event", zap.Error(err))
			return
		}
		handler(event)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			if dataBuffer.Len() > 0 {
				dataBuffer.WriteByte('\n')
			}
			dataBuffer.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case line == "":
			flush()
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return io.EOF
}
