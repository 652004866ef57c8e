package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Sessions are expected from browser dashboards on other origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsTransport adapts a gorilla connection to the session manager's
// Transport. The mutex serializes writes: broadcasts, unicasts, and pings
// arrive from different goroutines.
type wsTransport struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *wsTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) ping() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// handleWS upgrades the connection and runs the session's read loop until
// the client goes away.
func (h *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	transport := &wsTransport{conn: conn}
	s := h.sessions.Connect(transport)

	done := make(chan struct{})
	go h.pingLoop(transport, s.ID, done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("Websocket read error",
					slog.String("session_id", s.ID),
					slog.String("error", err.Error()),
				)
			}
			break
		}

		h.sessions.HandleCommand(s.ID, raw)
	}

	close(done)
	h.sessions.Disconnect(s.ID)
}

// pingLoop keeps the connection alive until the read loop signals done.
func (h *HTTPServer) pingLoop(t *wsTransport, sessionID string, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := t.ping(); err != nil {
				h.logger.Debug("Ping failed",
					slog.String("session_id", sessionID),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}
