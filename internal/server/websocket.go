package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/metrics"
	"github.com/Dileepreddy93/smartcloudops-ai-sub001/internal/predict"
)

// StreamMessage is one message pushed over the prediction stream.
type StreamMessage struct {
	Type       string         `json:"type"` // "prediction" or "heartbeat"
	Prediction predict.Result `json:"prediction,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// streamClient is one connected subscriber. Writes are serialized through the
// send channel; the hub never writes to the socket directly.
type streamClient struct {
	conn *websocket.Conn
	send chan StreamMessage
}

// streamHub fans served predictions out to WebSocket subscribers. It
// implements predict.Publisher. A slow client drops messages rather than
// backpressuring the prediction path.
type streamHub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

func newStreamHub(allowedOrigins []string, log *zap.Logger) *streamHub {
	h := &streamHub{
		log:     log,
		clients: make(map[*streamClient]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker allows same-origin requests plus the configured origins.
// A single "*" entry allows everything.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Publish broadcasts a prediction to all subscribers.
func (h *streamHub) Publish(res predict.Result) {
	msg := StreamMessage{
		Type:       "prediction",
		Prediction: res,
		Timestamp:  time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Client buffer full, drop the message.
		}
	}
}

// handleStream upgrades the connection and streams predictions until the
// client disconnects.
func (h *streamHub) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &streamClient{
		conn: conn,
		send: make(chan StreamMessage, 64),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	metrics.StreamConnections.Inc()
	h.log.Info("prediction stream connected", zap.String("remote", r.RemoteAddr))

	go h.writeLoop(client)
	h.readLoop(client)
}

// writeLoop pushes predictions and heartbeats to one client.
func (h *streamHub) writeLoop(c *streamClient) {
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := c.conn.WriteJSON(StreamMessage{Type: "heartbeat", Timestamp: time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}

// readLoop drains the connection until it closes, then unregisters.
func (h *streamHub) readLoop(c *streamClient) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
		metrics.StreamConnections.Dec()
		h.log.Info("prediction stream disconnected")
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *streamHub) remove(c *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// closeAll disconnects every subscriber during shutdown.
func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}
