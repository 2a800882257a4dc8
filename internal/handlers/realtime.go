package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AnshRaj112/identity-backend/internal/apperrors"
	"github.com/AnshRaj112/identity-backend/internal/middleware"
	"github.com/AnshRaj112/identity-backend/internal/realtime"
)

const (
	wsReadLimit  = 64 * 1024
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsWriteWait  = 10 * time.Second
)

// clientMessage is what browsers send over the socket.
type clientMessage struct {
	Event string `json:"event"`
	Room  string `json:"room,omitempty"`
}

type RealtimeHandler struct {
	auth     middleware.Authenticator
	hub      *realtime.Hub
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewRealtimeHandler accepts upgrades from allowedOrigins, and from clients
// that send no Origin header.
func NewRealtimeHandler(auth middleware.Authenticator, hub *realtime.Hub, allowedOrigins []string, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		auth: auth,
		hub:  hub,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, o := range allowedOrigins {
					if strings.EqualFold(strings.TrimSpace(o), origin) {
						return true
					}
				}
				return false
			},
		},
	}
}

// wsConn puts a deadline on every data frame the hub writes.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) WriteJSON(v interface{}) error {
	_ = c.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.Conn.WriteJSON(v)
}

// ServeWS authenticates with a bearer header or, for browsers, ?token=.
func (h *RealtimeHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.BearerToken(r)
	if !ok {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, r, h.log, apperrors.Unauthorized(middleware.MsgNoToken))
		return
	}
	p, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.DebugContext(r.Context(), "websocket upgrade failed", slog.Any("error", err))
		return
	}

	userID := p.UserID.Hex()
	client := h.hub.Register(userID, wsConn{conn})
	defer h.hub.Unregister(client)
	h.log.InfoContext(r.Context(), "realtime client connected", slog.String("user_id", userID))

	h.send(client, realtime.UserRoom(userID), realtime.EventServerReady, map[string]any{
		"userId": userID,
		"rooms":  client.Rooms(),
	})

	stop := make(chan struct{})
	defer close(stop)
	go pingLoop(conn, stop)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.DebugContext(r.Context(), "realtime read failed", slog.String("user_id", userID), slog.Any("error", err))
			}
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(client, "Invalid message")
			continue
		}
		h.dispatch(client, msg)
	}
}

func (h *RealtimeHandler) dispatch(c *realtime.Client, msg clientMessage) {
	msg.Room = strings.TrimSpace(msg.Room)
	switch msg.Event {
	case realtime.EventRoomJoin:
		if err := h.hub.Join(c, msg.Room); err != nil {
			h.sendError(c, roomError(err))
			return
		}
		h.send(c, msg.Room, realtime.EventRoomJoin, map[string]string{"room": msg.Room})
	case realtime.EventRoomLeave:
		h.hub.Leave(c, msg.Room)
		h.send(c, msg.Room, realtime.EventRoomLeave, map[string]string{"room": msg.Room})
	case realtime.EventClientPing:
		h.send(c, "", realtime.EventPong, map[string]int64{"time": time.Now().UnixMilli()})
	default:
		h.sendError(c, "Unknown event")
	}
}

func (h *RealtimeHandler) send(c *realtime.Client, room, name string, payload any) {
	evt, err := realtime.NewEvent(room, name, payload)
	if err != nil {
		h.log.Warn("realtime event encode failed", slog.Any("error", err))
		return
	}
	c.Send(evt)
}

func (h *RealtimeHandler) sendError(c *realtime.Client, message string) {
	h.send(c, "", realtime.EventError, map[string]string{"message": message})
}

func roomError(err error) string {
	if errors.Is(err, realtime.ErrRoomForbidden) {
		return "Cannot join another user's room"
	}
	return "Invalid room"
}

// pingLoop keeps the read deadline alive. WriteControl may run alongside the
// hub's writer.
func pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
