package gateway

import (
	"log/slog"
	"net/http"
	"strconv"

	json "github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"leverage-scanner/internal/execution"
	"leverage-scanner/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// Mux is satisfied by *http.ServeMux and the metrics server.
type Mux interface {
	Handle(pattern string, handler http.Handler)
}

// SignalReader reads recent signals from the signal log.
type SignalReader interface {
	RecentSignals(limit int) ([]model.SignalRecord, error)
}

// OrderReader reads recent entries from the order journal.
type OrderReader interface {
	GetOrders(limit int) ([]execution.OrderRecord, error)
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes mounts /ws and /api/stats and, when signals is non-nil,
// /api/signals.
func RegisterRoutes(mux Mux, hub *Hub, signals SignalReader) {
	log := slog.Default().With("component", "gateway")

	// /ws?since=<seq>&replay=<n>
	mux.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("ws upgrade failed", "err", err)
			return
		}
		q := r.URL.Query()
		since, _ := strconv.ParseInt(q.Get("since"), 10, 64)
		replay, _ := strconv.Atoi(q.Get("replay")) // 0 replays everything buffered
		if replay < 0 {
			replay = 0
		}
		hub.HandleWSRequest(conn, since, replay)
	}))

	// GET /api/stats
	mux.Handle("/api/stats", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		body, err := json.Marshal(map[string]interface{}{
			"seq":               hub.Seq(),
			"clients":           hub.ClientCount(),
			"hint_lead_minutes": hub.LeadStats(),
		})
		if err != nil {
			http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))

	if signals == nil {
		return
	}

	// GET /api/signals?limit=N
	mux.Handle("/api/signals", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET, OPTIONS")
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}

		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}

		recs, err := signals.RecentSignals(limit)
		if err != nil {
			log.Error("recent signals query failed", "err", err)
			http.Error(w, `{"error":"signal log unavailable"}`, http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []model.SignalRecord{}
		}

		body, err := json.Marshal(map[string]interface{}{
			"count":   len(recs),
			"signals": recs,
		})
		if err != nil {
			http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
}

// RegisterOrderRoutes mounts GET /api/orders?limit=N over the order journal.
func RegisterOrderRoutes(mux Mux, orders OrderReader) {
	log := slog.Default().With("component", "gateway")

	mux.Handle("/api/orders", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		limit, ok := parseLimit(w, r)
		if !ok {
			return
		}

		recs, err := orders.GetOrders(limit)
		if err != nil {
			log.Error("order journal query failed", "err", err)
			http.Error(w, `{"error":"order journal unavailable"}`, http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []execution.OrderRecord{}
		}

		body, err := json.Marshal(map[string]interface{}{
			"count":  len(recs),
			"orders": recs,
		})
		if err != nil {
			http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
}

// parseLimit reads ?limit=N (default 50) and answers 400 itself when it is
// not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}
