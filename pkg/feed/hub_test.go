package feed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucid-vigil/ransomwatch/pkg/alert"
	"github.com/lucid-vigil/ransomwatch/pkg/features"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func feedServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Register(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	assert.Eventually(t, func() bool { return hub.ClientCount() == want },
		2*time.Second, 20*time.Millisecond)
}

func TestHub_BroadcastsAlerts(t *testing.T) {
	hub := NewHub(time.Hour)
	srv := feedServer(t, hub)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	snap := features.New(time.Now())
	snap.State = features.StateRansomware
	snap.Detection = true
	hub.PublishAlert(alert.Alert{ID: "a-1", Type: "alert", Message: alert.Message, Data: snap})

	msg := readMessage(t, conn)
	assert.Equal(t, "alert", msg["type"])
	assert.Equal(t, alert.Message, msg["alert"])

	data, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, features.StateRansomware, data["state"])
	assert.Equal(t, float64(1), data["detection"])
}

func TestHub_LiveTrackingCarriesFourteenFeatures(t *testing.T) {
	hub := NewHub(time.Hour)
	srv := feedServer(t, hub)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	snap := features.New(time.Now())
	for _, name := range features.Names {
		snap.Values[name] = 9
	}
	hub.PublishLiveTracking(snap)

	msg := readMessage(t, conn)
	assert.Equal(t, "live_tracking", msg["type"])

	data, ok := msg["data"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, data, 14)
	assert.NotContains(t, data, features.CPUUsage, "cpu stays off the live feed")
	assert.Equal(t, float64(9), data[features.MemoryUsage])
}

func TestHub_PublishLog(t *testing.T) {
	hub := NewHub(time.Hour)
	srv := feedServer(t, hub)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.PublishLog(`{"level":"info","message":"cycle complete"}`)

	msg := readMessage(t, conn)
	assert.Equal(t, "live_tracking_log", msg["type"])
	assert.Contains(t, msg["log"], "cycle complete")
}

func TestHub_KeepalivePing(t *testing.T) {
	hub := NewHub(100 * time.Millisecond)
	srv := feedServer(t, hub)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	msg := readMessage(t, conn)
	assert.Equal(t, "ping", msg["type"])
	assert.Equal(t, "keepalive", msg["message"])
}

func TestHub_CountsAndDisconnects(t *testing.T) {
	hub := NewHub(time.Hour)
	srv := feedServer(t, hub)

	first := dial(t, srv)
	dial(t, srv)
	waitForClients(t, hub, 2)

	first.Close()
	waitForClients(t, hub, 1)
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(time.Hour)

	serverConn := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverConn <- conn
	}))
	t.Cleanup(srv.Close)
	dial(t, srv)

	// A zero-capacity buffer with no running pump models a subscriber that
	// cannot take another message.
	c := &Client{id: "stalled", hub: hub, conn: <-serverConn, send: make(chan []byte)}
	hub.mu.Lock()
	hub.clients[c] = struct{}{}
	hub.mu.Unlock()

	hub.PublishLog("anything")

	assert.Zero(t, hub.ClientCount(), "hub must shed subscribers that cannot keep up")
}

func TestHub_Shutdown(t *testing.T) {
	hub := NewHub(time.Hour)
	srv := feedServer(t, hub)

	conn := dial(t, srv)
	dial(t, srv)
	waitForClients(t, hub, 2)

	hub.Shutdown()

	assert.Zero(t, hub.ClientCount())
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "subscribers are disconnected on shutdown")
}
