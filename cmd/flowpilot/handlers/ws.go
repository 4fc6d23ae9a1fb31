package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/flowpilot/flowpilot/cmd/flowpilot/container"
	"github.com/flowpilot/flowpilot/common/broadcast"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 30 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 25 * time.Second

	// Clients only send pongs, not data
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the daemon binds to loopback; cross-origin browser clients are fine
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSubscriber adapts one WebSocket connection to the broadcast.Subscriber
// interface. Writes are serialized; a write failure evicts the subscriber.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
	once sync.Once
}

func (s *wsSubscriber) Send(frame broadcast.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(frame)
}

func (s *wsSubscriber) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsSubscriber) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSubscriber) sendText(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// WSHandler streams execution frames over WebSocket
type WSHandler struct {
	c *container.Container
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(c *container.Container) *WSHandler {
	return &WSHandler{c: c}
}

// Watch upgrades the connection and subscribes it to an execution's frames.
// The connection closes when the execution finishes or the peer goes away.
// GET /api/v1/executions/:id/ws
func (h *WSHandler) Watch(c echo.Context) error {
	executionID := c.Param("id")

	execution, err := h.c.ExecRepo.GetByID(c.Request().Context(), executionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if execution == nil {
		return echo.NewHTTPError(http.StatusNotFound, "execution not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	sub := &wsSubscriber{conn: conn}
	h.c.Broadcaster.Subscribe(executionID, sub)

	// A terminal execution gets its stored state once, then the stream ends.
	if execution.Status.Terminal() {
		frame := broadcast.NewFrame(broadcast.FrameStatus, executionID, map[string]any{
			"status": string(execution.Status),
		})
		sub.Send(frame)
		h.c.Broadcaster.Unsubscribe(executionID, sub)
		return sub.Close()
	}

	go h.writePings(executionID, sub)
	h.readLoop(executionID, sub)
	return nil
}

// readLoop consumes pongs and detects disconnects. The only client message
// with meaning is a "ping" text frame, answered with "pong".
func (h *WSHandler) readLoop(executionID string, sub *wsSubscriber) {
	defer func() {
		h.c.Broadcaster.Unsubscribe(executionID, sub)
		sub.Close()
	}()

	sub.conn.SetReadLimit(maxMessageSize)
	sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := sub.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.c.Log.Debug("websocket read error", "execution_id", executionID, "error", err)
			}
			return
		}
		sub.conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType == websocket.TextMessage && string(data) == "ping" {
			if err := sub.sendText("pong"); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) writePings(executionID string, sub *wsSubscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for range ticker.C {
		if err := sub.ping(); err != nil {
			h.c.Broadcaster.Unsubscribe(executionID, sub)
			sub.Close()
			return
		}
	}
}
