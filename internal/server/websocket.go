package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/conneroisu/bundlekit/internal/logging"
	"github.com/conneroisu/bundlekit/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Live reload message types.
const (
	MessageConnected  = "connected"
	MessageReload     = "reload"
	MessageBuildError = "build-error"
)

// Message is sent to live reload clients.
type Message struct {
	Type      string    `json:"type"`
	BuildID   string    `json:"build_id,omitempty"`
	Overlay   string    `json:"overlay,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Client is one live reload connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks live reload clients and broadcasts messages to them.
type Hub struct {
	logger         logging.Logger
	reporter       metrics.Reporter
	originPatterns []string

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

// NewHub creates a hub. originPatterns are passed to the websocket
// handshake; with none only same-origin pages may connect.
func NewHub(logger logging.Logger, reporter metrics.Reporter, originPatterns ...string) *Hub {
	return &Hub{
		logger:         logger.WithComponent("livereload"),
		reporter:       reporter,
		originPatterns: originPatterns,
		clients:        make(map[*Client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Debug(r.Context(), "WebSocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := &Client{conn: conn, send: make(chan []byte, 16)}
	if hello, err := encode(Message{Type: MessageConnected, Timestamp: time.Now()}); err == nil {
		client.send <- hello
	}
	if !h.register(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer h.unregister(client)

	// The page never sends anything; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(context.Background())
	h.writePump(ctx, client)
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.clientCountChanged(len(h.clients))
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.clientCountChanged(len(h.clients))
}

func (h *Hub) clientCountChanged(n int) {
	metrics.SetLiveReloadClients(h.reporter, n)
	h.logger.Debug(context.Background(), "Live reload clients changed", "clients", n)
}

func (h *Hub) writePump(ctx context.Context, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, message)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// Broadcast sends msg to every client. Clients whose queue is full are
// dropped; their pages reconnect.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := encode(msg)
	if err != nil {
		h.logger.Error(context.Background(), err, "Failed to encode live reload message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
	h.clientCountChanged(len(h.clients))
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
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
	h.clientCountChanged(0)
}

func encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// clientScript connects the page to the hub. It reloads on a successful
// rebuild and shows the error overlay on a failed one.
const clientScript = `(function () {
  var proto = location.protocol === "https:" ? "wss:" : "ws:";
  var url = proto + "//" + location.host + "/__bundlekit/ws";
  var connect = function () {
    var ws = new WebSocket(url);
    ws.onmessage = function (ev) {
      var msg = JSON.parse(ev.data);
      var old = document.getElementById("bundlekit-error-overlay");
      if (msg.type === "reload") {
        location.reload();
      } else if (msg.type === "build-error") {
        if (old) old.remove();
        document.body.insertAdjacentHTML("beforeend", msg.overlay);
      }
    };
    ws.onclose = function () { setTimeout(connect, 1000); };
  };
  connect();
})();`
