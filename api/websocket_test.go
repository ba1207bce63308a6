package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"watchtower/core"
	"watchtower/notify"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	go hub.Start()
	t.Cleanup(hub.Stop)
	return hub
}

func dialStream(t *testing.T, srv *httptest.Server, query string, headers http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, headers)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg StreamMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func TestStream_DeliversNotifications(t *testing.T) {
	cfg := newTestConfig(t, true)
	hub := startHub(t)
	a := NewAPI(newTestSIEM(t), hub, cfg, zap.NewNop().Sugar())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	header := http.Header{}
	for k, v := range bearer(t, cfg) {
		header.Set(k, v)
	}
	conn := dialStream(t, srv, "", header)
	waitForClients(t, hub, 1)

	require.NoError(t, hub.Notify(context.Background(), notify.Notification{
		Kind:     notify.AlertCreated,
		EntityID: "a-1",
		Severity: string(core.SeverityHigh),
		At:       time.Now(),
	}))
	msg := readMessage(t, conn)
	assert.Equal(t, string(notify.AlertCreated), msg.Type)
	assert.Equal(t, "a-1", msg.Data.EntityID)
}

func TestStream_EntityFilter(t *testing.T) {
	cfg := newTestConfig(t, false)
	hub := startHub(t)
	a := NewAPI(newTestSIEM(t), hub, cfg, zap.NewNop().Sugar())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, "?entities=incidents", nil)
	waitForClients(t, hub, 1)

	ctx := context.Background()
	require.NoError(t, hub.Notify(ctx, notify.Notification{Kind: notify.AlertCreated, EntityID: "a-1"}))
	require.NoError(t, hub.Notify(ctx, notify.Notification{Kind: notify.IncidentCreated, EntityID: "INC-1"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "INC-1", msg.Data.EntityID, "alert notifications are filtered out")
}

func TestStream_RequiresAuth(t *testing.T) {
	cfg := newTestConfig(t, true)
	hub := startHub(t)
	a := NewAPI(newTestSIEM(t), hub, cfg, zap.NewNop().Sugar())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_StopDisconnectsClientsAndIgnoresLateNotify(t *testing.T) {
	cfg := newTestConfig(t, false)
	hub := NewHub(context.Background(), zap.NewNop().Sugar())
	go hub.Start()
	a := NewAPI(newTestSIEM(t), hub, cfg, zap.NewNop().Sugar())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, "", nil)
	waitForClients(t, hub, 1)

	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.NoError(t, hub.Notify(context.Background(), notify.Notification{Kind: notify.AlertCreated}))
}
