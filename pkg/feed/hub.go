package feed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lucid-vigil/ransomwatch/pkg/alert"
	"github.com/lucid-vigil/ransomwatch/pkg/features"
	"github.com/lucid-vigil/ransomwatch/pkg/telemetry"
)

const (
	// DefaultKeepalive is the interval between application-level pings.
	DefaultKeepalive = 30 * time.Second

	writeWait  = 10 * time.Second
	sendBuffer = 64
	readLimit  = 512
)

// Hub fans messages out to every connected feed subscriber. Sends never
// block the pipeline: a subscriber whose buffer overflows is dropped, since
// a stalled dashboard must not be able to back up detection.
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	keepalive time.Duration
	logger    zerolog.Logger
}

// NewHub returns an empty hub. A non-positive keepalive falls back to the
// default.
func NewHub(keepalive time.Duration) *Hub {
	telemetry.Init()
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	return &Hub{
		clients:   make(map[*Client]struct{}),
		keepalive: keepalive,
		logger:    log.With().Str("component", "feed").Logger(),
	}
}

// Client is one subscriber connection.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// ID returns the connection identifier used in logs.
func (c *Client) ID() string { return c.id }

// Register adopts an upgraded connection and starts its pumps.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	c := &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	telemetry.ConnectedClients.Set(float64(count))
	h.logger.Info().Str("client", c.id).Int("clients", count).Msg("Feed subscriber connected")

	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}

	c.closeOnce.Do(func() { close(c.send) })
	c.conn.Close()
	telemetry.ConnectedClients.Set(float64(count))
	h.logger.Info().Str("client", c.id).Int("clients", count).Msg("Feed subscriber disconnected")
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown disconnects every subscriber.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.remove(c)
	}
}

// PublishAlert pushes an alert to every subscriber.
func (h *Hub) PublishAlert(a alert.Alert) {
	h.broadcastJSON("alert", a)
}

// PublishLiveTracking pushes the per-cycle feature vector.
func (h *Hub) PublishLiveTracking(snap *features.Snapshot) {
	h.broadcastJSON("live_tracking", map[string]any{
		"type": "live_tracking",
		"data": snap.FeatureVector(),
	})
}

// PublishLog forwards one agent log line to subscribers.
func (h *Hub) PublishLog(line string) {
	h.broadcastJSON("live_tracking_log", map[string]any{
		"type": "live_tracking_log",
		"log":  line,
	})
}

func (h *Hub) broadcastJSON(msgType string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msgType).Msg("Failed to encode feed message")
		return
	}
	telemetry.FeedMessages.WithLabelValues(msgType).Inc()

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn().Str("client", c.id).Msg("Subscriber too slow, dropping connection")
		telemetry.DroppedSubscribers.Inc()
		h.remove(c)
	}
}

// writePump drains the send buffer onto the wire and emits keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.keepalive)
	defer func() {
		ticker.Stop()
		c.hub.remove(c)
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.hub.logger.Debug().Err(err).Str("client", c.id).Msg("Write to subscriber failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(map[string]string{"type": "ping", "message": "keepalive"}); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its job is noticing the peer go away.
func (c *Client) readPump() {
	defer c.hub.remove(c)
	c.conn.SetReadLimit(readLimit)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
