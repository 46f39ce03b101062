package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramarivera/portal/internal/common/logger"
	"github.com/ramarivera/portal/internal/events"
	"github.com/ramarivera/portal/internal/events/bus"
	ws "github.com/ramarivera/portal/pkg/websocket"
)

type fakeLifecycle struct {
	mu       sync.Mutex
	acquired map[string]int
	released map[string]int
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{acquired: map[string]int{}, released: map[string]int{}}
}

func (f *fakeLifecycle) Acquire(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired[sessionID]++
	return nil
}

func (f *fakeLifecycle) Release(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[sessionID]++
}

func (f *fakeLifecycle) counts(sessionID string) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired[sessionID], f.released[sessionID]
}

type testGateway struct {
	gw        *Gateway
	lifecycle *fakeLifecycle
	bus       *bus.MemoryEventBus
	url       string
}

func setupGateway(t *testing.T) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()

	gw := NewGateway(log)
	lc := newFakeLifecycle()
	gw.Hub.SetSessionLifecycle(lc)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go gw.Hub.Run(ctx)

	eventBus := bus.NewMemoryEventBus(log)
	t.Cleanup(eventBus.Close)
	RegisterChatNotifications(ctx, eventBus, gw.Hub, log)

	router := gin.New()
	gw.SetupRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testGateway{
		gw:        gw,
		lifecycle: lc,
		bus:       eventBus,
		url:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (tg *testGateway) dial(t *testing.T) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(tg.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *gorillaws.Conn, id, action string, payload any) {
	t.Helper()
	msg, err := ws.NewRequest(id, action, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *gorillaws.Conn) *ws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func TestGateway_HealthCheck(t *testing.T) {
	tg := setupGateway(t)
	conn := tg.dial(t)

	send(t, conn, "1", ws.ActionHealthCheck, nil)
	resp := read(t, conn)
	assert.Equal(t, "1", resp.ID)
	assert.Equal(t, ws.MessageTypeResponse, resp.Type)

	var payload struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, "ok", payload.Status)
	assert.Equal(t, 1, payload.Clients)
}

func TestGateway_UnknownAction(t *testing.T) {
	tg := setupGateway(t)
	conn := tg.dial(t)

	send(t, conn, "2", "does.not.exist", nil)
	resp := read(t, conn)
	assert.Equal(t, ws.MessageTypeError, resp.Type)
}

func TestGateway_SubscribeValidation(t *testing.T) {
	tg := setupGateway(t)
	conn := tg.dial(t)

	send(t, conn, "3", ws.ActionSessionSubscribe, SubscribeRequest{})
	resp := read(t, conn)
	require.Equal(t, ws.MessageTypeError, resp.Type)

	var payload ws.ErrorPayload
	require.NoError(t, resp.ParsePayload(&payload))
	assert.Equal(t, ws.ErrorCodeValidation, payload.Code)
}

func TestGateway_SessionEventsReachSubscribers(t *testing.T) {
	tg := setupGateway(t)
	watcher := tg.dial(t)
	other := tg.dial(t)

	send(t, watcher, "s", ws.ActionSessionSubscribe, SubscribeRequest{SessionID: "ses_1"})
	require.Equal(t, ws.MessageTypeResponse, read(t, watcher).Type)
	acquired, _ := tg.lifecycle.counts("ses_1")
	assert.Equal(t, 1, acquired)

	// Subscribing twice does not take a second reference.
	send(t, watcher, "s2", ws.ActionSessionSubscribe, SubscribeRequest{SessionID: "ses_1"})
	require.Equal(t, ws.MessageTypeResponse, read(t, watcher).Type)
	acquired, _ = tg.lifecycle.counts("ses_1")
	assert.Equal(t, 1, acquired)

	err := tg.bus.Publish(context.Background(), events.ChatSubject("ses_1", events.MessageAdded),
		bus.NewEvent(events.MessageAdded, "test", map[string]any{"id": "temp-1"}))
	require.NoError(t, err)

	note := read(t, watcher)
	assert.Equal(t, ws.MessageTypeNotification, note.Type)
	assert.Equal(t, events.MessageAdded, note.Action)

	var body struct {
		SessionID string         `json:"session_id"`
		Data      map[string]any `json:"data"`
	}
	require.NoError(t, note.ParsePayload(&body))
	assert.Equal(t, "ses_1", body.SessionID)
	assert.Equal(t, "temp-1", body.Data["id"])

	// The unsubscribed client only sees its own health response.
	send(t, other, "h", ws.ActionHealthCheck, nil)
	assert.Equal(t, "h", read(t, other).ID)
}

func TestGateway_DisconnectReleasesSession(t *testing.T) {
	tg := setupGateway(t)
	conn := tg.dial(t)

	send(t, conn, "s", ws.ActionSessionSubscribe, SubscribeRequest{SessionID: "ses_2"})
	require.Equal(t, ws.MessageTypeResponse, read(t, conn).Type)
	require.Equal(t, 1, tg.gw.Hub.SubscriberCount("ses_2"))

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		_, released := tg.lifecycle.counts("ses_2")
		return released == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, tg.gw.Hub.SubscriberCount("ses_2"))
}

func TestGateway_UnsubscribeReleasesOnce(t *testing.T) {
	tg := setupGateway(t)
	conn := tg.dial(t)

	send(t, conn, "s", ws.ActionSessionSubscribe, SubscribeRequest{SessionID: "ses_3"})
	require.Equal(t, ws.MessageTypeResponse, read(t, conn).Type)

	send(t, conn, "u", ws.ActionSessionUnsubscribe, SubscribeRequest{SessionID: "ses_3"})
	require.Equal(t, ws.MessageTypeResponse, read(t, conn).Type)
	send(t, conn, "u2", ws.ActionSessionUnsubscribe, SubscribeRequest{SessionID: "ses_3"})
	require.Equal(t, ws.MessageTypeResponse, read(t, conn).Type)

	_, released := tg.lifecycle.counts("ses_3")
	assert.Equal(t, 1, released)
}
