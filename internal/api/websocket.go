package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// WebSocket message types for the snapshot protocol
const (
	// Client -> Server messages
	MsgTypePing     = "ping"
	MsgTypeSnapshot = "snapshot"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypePong      = "pong"
	MsgTypeError     = "error"
)

// WSMessage is the envelope of every frame in both directions
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WSErrorResponse is the payload of an error frame
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes session snapshots to clients on every change
type WebSocketHandler struct {
	sessionMgr SessionManager
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	// minInterval coalesces bursts of changes into one frame.
	minInterval time.Duration
}

// NewWebSocketHandler creates a new WebSocket snapshot handler
func NewWebSocketHandler(sessionMgr SessionManager, logger zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		sessionMgr: sessionMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		logger:      logger.With().Str("component", "ws").Logger(),
		minInterval: 50 * time.Millisecond,
	}
}

// wsConn serializes writes from the push loop and the read loop.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) send(msg WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(msg)
}

// HandleSessionSocket upgrades the connection and streams the session's snapshots
func (wsh *WebSocketHandler) HandleSessionSocket(c echo.Context) error {
	state, err := lookupSession(c, wsh.sessionMgr)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	log := wsh.logger.With().Str("session_id", state.ID).Logger()
	log.Debug().Msg("client connected")
	conn := &wsConn{ws: ws}

	view := state.Controller.State()
	changed := make(chan struct{}, 1)
	unregister := view.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unregister()

	snapshot := func(kind, id string) error {
		snap := view.Snapshot()
		snap.SessionID = state.ID
		return conn.send(WSMessage{Type: kind, ID: id, Payload: mustJSON(snap)})
	}

	if err := snapshot(MsgTypeConnected, ""); err != nil {
		return nil
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-changed:
			}
			if err := snapshot(MsgTypeSnapshot, ""); err != nil {
				return
			}
			// Let a burst settle before the next frame.
			select {
			case <-done:
				return
			case <-time.After(wsh.minInterval):
			}
		}
	}()

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("connection error")
			}
			break
		}

		wsh.sessionMgr.TouchSession(state.ID)

		switch msg.Type {
		case MsgTypePing:
			err = conn.send(WSMessage{Type: MsgTypePong, ID: msg.ID})
		case MsgTypeSnapshot:
			err = snapshot(MsgTypeSnapshot, msg.ID)
		default:
			err = conn.send(WSMessage{
				Type:    MsgTypeError,
				ID:      msg.ID,
				Payload: mustJSON(WSErrorResponse{Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"}),
			})
		}
		if err != nil {
			break
		}
	}

	log.Debug().Msg("client disconnected")
	return nil
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
