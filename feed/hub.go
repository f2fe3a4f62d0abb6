package feed

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/user/dictofun-sync/fts"
	"github.com/user/dictofun-sync/logger"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// writeTimeout bounds how long a slow client can hold up a broadcast
const writeTimeout = 100 * time.Millisecond

// Event is what clients receive for every notice
type Event struct {
	Type      string          `json:"type"`
	Payload   fts.Notice      `json:"payload"`
	Timestamp json.RawMessage `json:"timestamp"`
	Uptime    json.RawMessage `json:"uptime"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans notices out to websocket clients
type Hub struct {
	started time.Time

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		started: time.Now(),
		clients: make(map[*websocket.Conn]bool),
	}
}

// ServeHTTP upgrades the request and keeps the client until it goes away
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("feed Hub", "❌ Failed to upgrade connection: %v", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = true
	h.mu.Unlock()
	logger.Debug("feed Hub", "🔌 Client %s joined", conn.RemoteAddr())

	// Clients never send anything; reading only notices the close
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(conn)
				return
			}
		}
	}()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) event(n fts.Notice) Event {
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	ts, _ := protojson.Marshal(timestamppb.New(at))
	up, _ := protojson.Marshal(durationpb.New(at.Sub(h.started)))
	return Event{
		Type:      string(n.Kind),
		Payload:   n,
		Timestamp: ts,
		Uptime:    up,
	}
}

// Publish broadcasts n to every client. Clients that fail the write are dropped.
// It has the shape of a link.NoticeHandler.
func (h *Hub) Publish(n fts.Notice) {
	event := h.event(n)

	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	var failedMu sync.Mutex
	var failed []*websocket.Conn

	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			c.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.WriteJSON(event); err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range failed {
		logger.Debug("feed Hub", "⚠️  Dropping client %s", conn.RemoteAddr())
		h.remove(conn)
	}
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

// Serve listens on addr and serves the hub at /events until the server is closed
func Serve(addr string, h *Hub) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/events", h)
	srv := &http.Server{Handler: mux}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("feed Hub", "❌ Event server stopped: %v", err)
		}
	}()
	logger.Info("feed Hub", "📡 Serving events on ws://%s/events", ln.Addr())
	return srv, nil
}
