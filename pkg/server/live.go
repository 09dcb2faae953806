package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raterudder/facilityenergy/pkg/log"
	"github.com/raterudder/facilityenergy/pkg/types"
)

const (
	liveSendBuffer = 256
	liveWriteWait  = 10 * time.Second
)

// liveMessage is the envelope every live stream message is sent in.
type liveMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type liveClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans newly ingested records out to connected websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*liveClient]bool
	closed  bool
}

// NewHub returns a Hub with no clients.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*liveClient]bool),
	}
}

func (h *Hub) register(c *liveClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = true
	return true
}

func (h *Hub) unregister(c *liveClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish broadcasts rec to every client. Slow clients miss the record
// rather than block ingestion.
func (h *Hub) Publish(ctx context.Context, rec types.HourlyRecord) error {
	msg, err := json.Marshal(liveMessage{Type: "record", Payload: rec})
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Ctx(ctx).WarnContext(ctx, "live client buffer full, dropping record", slog.Time("timestamp", rec.Timestamp))
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (c *liveClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(liveWriteWait))
}

// readPump discards client messages and unregisters once the peer goes away.
func (c *liveClient) readPump(ctx context.Context) {
	defer c.hub.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Ctx(ctx).DebugContext(ctx, "live client read error", slog.Any("error", err))
			}
			return
		}
	}
}

// checkOrigin accepts same-origin callers without an Origin header and the
// configured CORS origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.corsOrigins, origin)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}

	c := &liveClient{
		hub:  s.live,
		conn: conn,
		send: make(chan []byte, liveSendBuffer),
	}
	if !s.live.register(c) {
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump(ctx)
}
