// Package client provides a reusable WebSocket load test client for the chat
// service. It connects using gobwas/ws (the same library the server uses),
// authenticates with a JWT passed as a query parameter, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/golang-jwt/jwt/v5"
)

// ---------------------------------------------------------------------------
// Protocol event types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server event types.
const (
	TypeJoinConversation = "join-conversation"
	TypeSendMessage      = "send-message"
	TypeTyping           = "typing"
	TypePing             = "ping"
	TypeGetStats         = "get_stats"
)

// Server -> Client event types.
const (
	TypeConnected           = "connected"
	TypeError               = "error"
	TypeMessageError        = "message-error"
	TypeConversationHistory = "conversation-history"
	TypeNewMessage          = "new-message"
	TypeConversationUpdated = "conversation-updated"
	TypeUserTyping          = "user-typing"
	TypePong                = "pong"
	TypeStats               = "stats"
	TypeMaintenance         = "maintenance"
)

// MintToken signs a short-lived HS256 JWT for the given user, matching the
// claim layout the server's verifier expects. The secret must match the
// server's CHAT_JWT_SECRET.
func MintToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	FirstMsgLatency  time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the chat server.
// It manages the WebSocket lifecycle and dispatches incoming events to
// registered handlers. The server's connected greeting is tracked so callers
// can wait for the handshake to finish.
type Client struct {
	conn      net.Conn
	userID    string
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	dialedAt  time.Time
	firstMsg  time.Time
}

// New creates a load test client connected to the given WebSocket URL,
// authenticating with the supplied token. The connection is established
// immediately and a background goroutine begins reading events.
func New(ctx context.Context, wsURL, token string) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
		dialedAt: start,
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON event to the server. It is goroutine-safe.
func (c *Client) Send(evt interface{}) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// SendMessage posts a chat message to a conversation.
func (c *Client) SendMessage(conversationID, content string) error {
	return c.Send(map[string]string{
		"type":           TypeSendMessage,
		"conversationId": conversationID,
		"content":        content,
	})
}

// JoinConversation joins a conversation room. The server replies with the
// conversation history.
func (c *Client) JoinConversation(conversationID string) error {
	return c.Send(map[string]string{
		"type":           TypeJoinConversation,
		"conversationId": conversationID,
	})
}

// On registers a handler for a specific server event type. The handler
// receives the full raw JSON of the event for flexible decoding. Handlers are
// invoked from the read loop goroutine so they should not block for extended
// periods. Only one handler per event type is supported; registering a second
// handler for the same type replaces the first.
func (c *Client) On(evtType string, handler func(json.RawMessage)) {
	c.handlers[evtType] = handler
}

// WaitForReady blocks until the server has sent its connected greeting or the
// context is cancelled. This is useful for coordinating load test phases that
// depend on the handshake being complete.
func (c *Client) WaitForReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before greeting arrived")
	case <-c.ready:
		return nil
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// UserID returns the user ID confirmed by the server's greeting, or an empty
// string if the handshake has not completed yet.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		if c.firstMsg.IsZero() {
			c.firstMsg = time.Now()
			c.metrics.FirstMsgLatency = c.firstMsg.Sub(c.dialedAt)
		}
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Track the greeting internally so WaitForReady can unblock.
		if envelope.Type == TypeConnected {
			var evt struct {
				UserID string `json:"userId"`
			}
			if err := json.Unmarshal(data, &evt); err == nil {
				c.mu.Lock()
				c.userID = evt.UserID
				c.mu.Unlock()
			}
			c.readyOnce.Do(func() { close(c.ready) })
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
