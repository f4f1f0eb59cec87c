// Package gateway pushes each cycle's gap table to WebSocket clients.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"nsebse-gap/internal/model"
)

const sendBuffer = 16

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Envelope is the WebSocket frame for one snapshot.
type Envelope struct {
	Type    string `json:"type"` // "gaps"
	Initial bool   `json:"initial,omitempty"`
	model.GapSnapshot
}

// Hub keeps the latest snapshot and fans every new one out to connected
// clients. Slow clients drop frames rather than block the publisher.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  model.GapSnapshot
	seq     int64

	replay *ReplayBuffer
}

// NewHub creates a hub that remembers the last replaySize envelopes.
func NewHub(replaySize int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:     log,
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
	}
}

// Publish assigns the next sequence number to rows and broadcasts them.
// It returns the stored snapshot.
func (h *Hub) Publish(snap model.GapSnapshot) model.GapSnapshot {
	h.mu.Lock()
	h.seq++
	snap.Seq = h.seq
	rows := make([]model.ComparisonRow, len(snap.Rows))
	copy(rows, snap.Rows)
	snap.Rows = rows
	h.latest = snap

	data, err := json.Marshal(Envelope{Type: "gaps", GapSnapshot: snap})
	if err != nil {
		h.mu.Unlock()
		h.log.Error("gateway marshal snapshot", slog.String("err", err.Error()))
		return snap
	}
	h.replay.Push(snap.Seq, data)

	dropped := 0
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		h.log.Warn("gateway dropped frames for slow clients", slog.Int("clients", dropped))
	}
	return snap
}

// Latest returns a copy of the most recent snapshot.
func (h *Hub) Latest() model.GapSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	snap := h.latest
	snap.Rows = append([]model.ComparisonRow(nil), h.latest.Rows...)
	return snap
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a WebSocket. With ?since=N the client is
// first sent every buffered envelope after N; otherwise it gets the latest
// snapshot marked initial.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", slog.String("err", err.Error()))
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, sendBuffer), hub: h}

	h.mu.Lock()
	for _, frame := range h.initialFrames(r.URL.Query().Get("since")) {
		c.send <- frame
	}
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", slog.Int("clients", count))

	go c.writePump()
	go c.readPump()
}

// initialFrames must be called with h.mu held.
func (h *Hub) initialFrames(since string) [][]byte {
	if h.seq == 0 {
		return nil
	}
	if n, err := strconv.ParseInt(since, 10, 64); err == nil {
		frames := h.replay.Since(n)
		if len(frames) > sendBuffer {
			frames = frames[len(frames)-sendBuffer:]
		}
		return frames
	}
	data, err := json.Marshal(Envelope{Type: "gaps", Initial: true, GapSnapshot: h.latest})
	if err != nil {
		return nil
	}
	return [][]byte{data}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
