package gateway

import (
	"strings"
	"sync"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"leverage-scanner/internal/model"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	filterMu sync.RWMutex
	filters  ClientFilters
}

// ClientFilters narrows what a client receives. Empty means everything.
type ClientFilters struct {
	Symbols       []string `json:"symbols"`
	Timeframes    []string `json:"timeframes"`
	MinConfidence int      `json:"min_confidence"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	size := sendBuffer
	if h.replay.cap > size {
		size = h.replay.cap
	}
	return &Client{
		conn: conn,
		send: make(chan []byte, size),
		hub:  h,
	}
}

// wants reports whether rec passes the client's filters.
func (c *Client) wants(rec model.SignalRecord) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	f := c.filters

	if rec.Confidence < f.MinConfidence {
		return false
	}
	if len(f.Symbols) > 0 && !containsFold(f.Symbols, rec.Symbol) {
		return false
	}
	if len(f.Timeframes) > 0 && !containsFold(f.Timeframes, rec.Timeframe) {
		return false
	}
	return true
}

func (c *Client) setFilters(f ClientFilters) {
	c.filterMu.Lock()
	c.filters = f
	c.filterMu.Unlock()
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "FILTER":
			var f ClientFilters
			if json.Unmarshal(msg, &f) == nil {
				c.setFilters(f)
			}
		case "PING":
			pong, _ := json.Marshal(map[string]interface{}{
				"type":      "pong",
				"ping":      base.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			c.trySend(pong)
		}
	}
}

// trySend queues msg unless the client is gone or backed up.
func (c *Client) trySend(msg []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
