package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/factory-twin/backend/internal/ctxlog"
	"github.com/factory-twin/backend/internal/models"
	"github.com/factory-twin/backend/internal/pipeline"
)

// WebSocket message types for the run event protocol
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeProgress  = "progress"
	MsgTypeComplete  = "complete"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// WSMessage is one frame sent to event subscribers.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Event     *pipeline.Event `json:"event,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocketHandler streams run progress to browser clients
type WebSocketHandler struct {
	runs     RunManager
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new run event handler
func NewWebSocketHandler(runs RunManager) *WebSocketHandler {
	return &WebSocketHandler{
		runs: runs,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// viewer pages are served from the asset port
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
	}
}

// HandleRunEvents upgrades the connection and forwards run events until the
// run finishes or the client goes away
func (wsh *WebSocketHandler) HandleRunEvents(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	events, unsubscribe, err := wsh.runs.Subscribe(id)
	if errors.Is(err, pipeline.ErrRunNotFound) {
		return NewNotFoundError("run", id)
	}
	if err != nil {
		return NewInternalError("failed to subscribe", err)
	}
	defer unsubscribe()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		return nil
	}
	defer ws.Close()

	log := ctxlog.FromContext(c.Request().Context()).With("run", id)
	log.Debug("event subscriber connected")

	pings := make(chan struct{}, 1)
	closed := make(chan struct{})
	go wsh.readLoop(ws, pings, closed)

	if err := wsh.send(ws, WSMessage{Type: MsgTypeConnected, ID: id}); err != nil {
		return nil
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				wsh.closeNormal(ws)
				return nil
			}
			if err := wsh.send(ws, WSMessage{Type: messageType(ev.Status), ID: id, Event: &ev}); err != nil {
				log.Debug("event subscriber write failed", "error", err)
				return nil
			}
		case <-pings:
			if err := wsh.send(ws, WSMessage{Type: MsgTypePong}); err != nil {
				return nil
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			log.Debug("event subscriber disconnected")
			return nil
		}
	}
}

// readLoop drains client frames so control messages are processed and a
// close is noticed. Only ping requests are answered.
func (wsh *WebSocketHandler) readLoop(ws *websocket.Conn, pings chan<- struct{}, closed chan<- struct{}) {
	defer close(closed)
	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == MsgTypePing {
			select {
			case pings <- struct{}{}:
			default:
			}
		}
	}
}

func (wsh *WebSocketHandler) send(ws *websocket.Conn, msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.WriteJSON(msg)
}

func (wsh *WebSocketHandler) closeNormal(ws *websocket.Conn) {
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(wsWriteWait))
}

func messageType(status models.RunStatus) string {
	switch status {
	case models.RunStatusComplete:
		return MsgTypeComplete
	case models.RunStatusError:
		return MsgTypeError
	}
	return MsgTypeProgress
}
