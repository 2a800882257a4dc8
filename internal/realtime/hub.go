// Package realtime fans server events out to WebSocket connections grouped
// into rooms. With Redis configured, events published on any instance reach
// the rooms' members on every instance.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventServerReady = "server:ready"
	EventNotify      = "notify"
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventClientPing  = "client:ping"
	EventPong        = "server:pong"
	EventError       = "error"

	channelPrefix   = "realtime:room:"
	userRoomPrefix  = "user:"
	clientQueueSize = 16
)

var (
	ErrRoomForbidden = errors.New("realtime: room not allowed")
	ErrRoomInvalid   = errors.New("realtime: invalid room")
)

// Event is the envelope written to clients and carried over Redis.
type Event struct {
	Room      string          `json:"room,omitempty"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent marshals payload into an Event.
func NewEvent(room, name string, payload any) (Event, error) {
	evt := Event{Room: room, Event: name, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		evt.Data = data
	}
	return evt, nil
}

// Conn is the part of *websocket.Conn the hub writes through.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// UserRoom is the room every connection of userID joins.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

type Client struct {
	UserID string

	conn  Conn
	send  chan Event
	done  chan struct{}
	once  sync.Once
	mu    sync.Mutex
	rooms map[string]struct{}
}

// Rooms returns the rooms the client is in.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	return out
}

// Send queues evt for this client only. A full queue drops the event.
func (c *Client) Send(evt Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *Client) writeLoop(log *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case evt := <-c.send:
			if err := c.conn.WriteJSON(evt); err != nil {
				log.Debug("realtime write failed", slog.String("user_id", c.UserID), slog.Any("error", err))
				c.close()
				return
			}
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub tracks room membership for local connections.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}

	redis *redis.Client
	log   *slog.Logger
}

// NewHub returns a hub. rdb may be nil, in which case events stay local.
func NewHub(rdb *redis.Client, logger *slog.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		redis: rdb,
		log:   logger,
	}
}

// Register adds a connection for userID and joins it to the user's room.
func (h *Hub) Register(userID string, conn Conn) *Client {
	c := &Client{
		UserID: userID,
		conn:   conn,
		send:   make(chan Event, clientQueueSize),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
	h.join(c, UserRoom(userID))
	go c.writeLoop(h.log)
	return c
}

// Unregister removes c from every room and closes its connection.
func (h *Hub) Unregister(c *Client) {
	for _, room := range c.Rooms() {
		h.leave(c, room)
	}
	c.close()
}

// Join adds c to a public room. Other users' rooms are off limits.
func (h *Hub) Join(c *Client, room string) error {
	room = strings.TrimSpace(room)
	if room == "" || len(room) > 128 {
		return ErrRoomInvalid
	}
	if strings.HasPrefix(room, userRoomPrefix) && room != UserRoom(c.UserID) {
		return ErrRoomForbidden
	}
	h.join(c, room)
	return nil
}

// Leave removes c from room. A client always stays in its own user room.
func (h *Hub) Leave(c *Client, room string) {
	room = strings.TrimSpace(room)
	if room == UserRoom(c.UserID) {
		return
	}
	h.leave(c, room)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()

	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()

	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// Publish sends an event to room on every instance.
func (h *Hub) Publish(ctx context.Context, room, name string, payload any) error {
	evt, err := NewEvent(room, name, payload)
	if err != nil {
		return err
	}
	if h.redis == nil {
		h.deliver(evt)
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return h.redis.Publish(ctx, channelPrefix+room, data).Err()
}

// PublishToUser sends an event to every connection of userID.
func (h *Hub) PublishToUser(ctx context.Context, userID, name string, payload any) error {
	return h.Publish(ctx, UserRoom(userID), name, payload)
}

// deliver queues evt for local members of its room.
func (h *Hub) deliver(evt Event) int {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[evt.Room]))
	for c := range h.rooms[evt.Room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range members {
		if c.Send(evt) {
			sent++
		} else {
			h.log.Warn("realtime event dropped", slog.String("room", evt.Room), slog.String("user_id", c.UserID))
		}
	}
	return sent
}

// Run relays events from Redis to local members until ctx ends. Without
// Redis it just waits for ctx.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		h.log.Info("realtime running in local mode")
		<-ctx.Done()
		return
	}

	backoff := time.Second
	for ctx.Err() == nil {
		if h.subscribe(ctx) {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// subscribe consumes one subscription until it fails. It reports whether
// any message was received.
func (h *Hub) subscribe(ctx context.Context) bool {
	pubsub := h.redis.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	h.log.Info("realtime redis subscriber started", slog.String("pattern", channelPrefix+"*"))

	received := false
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				h.log.Warn("realtime redis subscriber error", slog.Any("error", err))
			}
			return received
		}
		received = true

		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			h.log.Warn("realtime event decode failed", slog.Any("error", err))
			continue
		}
		if evt.Room == "" {
			evt.Room = strings.TrimPrefix(msg.Channel, channelPrefix)
		}
		h.deliver(evt)
	}
}
