// Package gateway serves live signals to dashboard clients over websocket
// and recent signals over REST.
package gateway

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"leverage-scanner/internal/model"
)

const defaultReplaySize = 100

// Hub fans signal records out to websocket clients and keeps the most
// recent envelopes for replay to new connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	replay *ReplayBuffer
	lead   *LeadTimes
	log    *slog.Logger
	now    func() time.Time

	// OnClientsChange is called with the client count after every
	// connect and disconnect.
	OnClientsChange func(n int)
}

// NewHub creates a hub that replays up to replaySize signals.
func NewHub(replaySize int) *Hub {
	if replaySize <= 0 {
		replaySize = defaultReplaySize
	}
	return &Hub{
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(replaySize),
		lead:    NewLeadTimes(0),
		log:     slog.Default().With("component", "ws-hub"),
		now:     time.Now,
	}
}

// Name implements model.SignalSink.
func (h *Hub) Name() string { return "ws" }

// Emit implements model.SignalSink. Slow clients drop messages rather than
// block the scan.
func (h *Hub) Emit(_ context.Context, rec model.SignalRecord) error {
	if rec.SignalDelayMinutes != nil {
		h.lead.Record(*rec.SignalDelayMinutes)
	}
	h.broadcast(rec)
	return nil
}

// broadcast builds the envelope by hand and fans it out. The hub lock is
// held throughout so replay and registration never interleave with it.
func (h *Hub) broadcast(rec model.SignalRecord) {
	data := rec.JSON()
	now := h.now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	seq := h.seq

	buf := make([]byte, 0, len(data)+96)
	buf = append(buf, `{"type":"signal","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')

	h.replay.Push(seq, buf)

	for client := range h.clients {
		if !client.wants(rec) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			h.log.Debug("dropping signal for slow client", "seq", seq)
		}
	}
}

// HandleWSRequest registers an upgraded connection, replays signals with
// seq > since (at most replay of them) and starts its pumps.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, since int64, replay int) {
	client := newClient(h, conn)

	h.mu.Lock()
	for _, e := range h.replay.After(since, replay) {
		select {
		case client.send <- e.Data:
		default:
		}
	}
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("ws client connected", "clients", count)
	if h.OnClientsChange != nil {
		h.OnClientsChange(count)
	}

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()

	h.log.Info("ws client disconnected", "clients", count)
	if h.OnClientsChange != nil {
		h.OnClientsChange(count)
	}
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the sequence number of the last broadcast signal.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// LeadStats returns hint lead time percentiles over recent confirmations.
func (h *Hub) LeadStats() LeadStats {
	return h.lead.Stats()
}
