package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zaliubovskiy/chatrelay/internal/config"
	"github.com/zaliubovskiy/chatrelay/internal/domain"
	"github.com/zaliubovskiy/chatrelay/pkg/log"
)

// Session states. Transitions only move forward.
type State int

const (
	StateConnecting State = iota
	StateUnauthenticated
	StateAuthenticated
	StateClosed
)

var errSendBufferFull = errors.New("send buffer full or session closed")

// Client is one open websocket connection and its authentication and
// membership state. It is bound to exactly one room for its lifetime.
type Client struct {
	ID       string
	conn     *websocket.Conn
	send     chan []byte
	registry Registry
	cfg      config.WebSocketConfig

	mu     sync.RWMutex
	state  State
	roomID string
	token  MembershipToken
	user   *domain.User

	closeOnce sync.Once
	flushOnce sync.Once
}

// NewClient wraps an upgraded connection. The session starts in
// CONNECTING; Register moves it to UNAUTHENTICATED and into the room.
func NewClient(id string, conn *websocket.Conn, registry Registry, cfg config.WebSocketConfig) *Client {
	return &Client{
		ID:       id,
		conn:     conn,
		send:     make(chan []byte, 256),
		registry: registry,
		cfg:      cfg,
		state:    StateConnecting,
	}
}

// Register joins the session to its room and enters UNAUTHENTICATED.
// The room comes from the connection's URL, so the session receives
// room broadcasts from this point on, before authentication completes.
func (c *Client) Register(roomID string) {
	token := c.registry.Join(roomID, c)

	c.mu.Lock()
	c.roomID = roomID
	c.token = token
	c.state = StateUnauthenticated
	c.mu.Unlock()
}

// Authenticate binds the resolved identity and enters AUTHENTICATED.
func (c *Client) Authenticate(user *domain.User) {
	c.mu.Lock()
	c.user = user
	c.state = StateAuthenticated
	c.mu.Unlock()
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// User returns the authenticated identity, or nil before set_token.
func (c *Client) User() *domain.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// RoomID returns the room this session is bound to.
func (c *Client) RoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// Close tears the session down: leaves the room, marks CLOSED, and
// closes the network connection. Safe to call from any goroutine and
// any number of times; it also runs when the peer disconnects.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		token := c.token
		c.mu.Unlock()

		c.registry.Leave(token)
		c.conn.Close()
	})
}

// CloseAfterFlush ends the session once every queued frame has been
// written. Used when the last frame matters, like a terminal error
// before disconnecting a client.
func (c *Client) CloseAfterFlush() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	token := c.token
	c.flushOnce.Do(func() { close(c.send) })
	c.mu.Unlock()

	c.registry.Leave(token)
}

// SendFrame marshals a frame and queues it for this session only.
func (c *Client) SendFrame(frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.enqueue(data)
}

// enqueue hands raw bytes to the write pump without blocking. The lock
// excludes a concurrent CloseAfterFlush, so the channel is never closed
// mid-send.
func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateClosed {
		return errSendBufferFull
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// ReadPump reads frames from the connection and hands them to handler.
// It owns the connection's read side and guarantees cleanup: the session
// leaves its room whatever path ends the loop.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldClientID, c.ID).Msg("websocket read error")
			}
			return
		}

		handler(c, message)
	}
}

// WritePump writes queued frames and keepalive pings. It exits when the
// connection dies; it never closes the session itself.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
