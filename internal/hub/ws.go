package hub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks belong to the deployment's edge; the service itself
	// accepts any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

const writeTimeout = 10 * time.Second

// connection wraps a websocket with a write mutex so broadcasts and
// ping replies never interleave frames.
type connection struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *connection) send(payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(payload)
}

func (c *connection) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.Close()
}

// clientFrame is the only inbound message shape the hub understands.
type clientFrame struct {
	Type string `json:"type"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// AttachHandler returns an HTTP handler that upgrades the request to a
// websocket and subscribes it to status events for the ID extracted by
// idFromRequest. Requests without a token query parameter are rejected
// before the upgrade; token validation beyond presence is left to the
// deployment's edge.
func (h *Hub) AttachHandler(idFromRequest func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		id := idFromRequest(r)
		if id == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		conn := &connection{ws: ws}
		h.attach(id, conn)
		defer func() {
			h.detach(id, conn)
			conn.close()
		}()

		h.readLoop(id, conn)
	}
}

// readLoop services inbound frames until the peer goes away. Application
// pings get a timestamped pong; anything else, malformed frames included,
// is ignored.
func (h *Hub) readLoop(id string, conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed unexpectedly", "id", id, "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type != "ping" {
			continue
		}

		pong := pongFrame{Type: "pong", Timestamp: time.Now().Unix()}
		if err := conn.send(pong); err != nil {
			h.logger.Debug("pong write failed", "id", id, "error", err)
			return
		}
	}
}
