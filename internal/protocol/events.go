// Package protocol defines the WebSocket event types and structures used for
// communication between the client and server. All events are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
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
	TypeFrameError          = "frame_error"
	TypeConversationHistory = "conversation-history"
	TypeNewMessage          = "new-message"
	TypeConversationUpdated = "conversation-updated"
	TypeUserTyping          = "user-typing"
	TypePong                = "pong"
	TypeStats               = "stats"
	TypeMaintenance         = "maintenance"
)

// Stable machine-readable error codes carried by error events.
const (
	CodeNoToken        = "NO_TOKEN"
	CodeAuthFailed     = "AUTH_FAILED"
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeNotFound       = "NOT_FOUND"
	CodeForbidden      = "FORBIDDEN"
	CodeContentBlocked = "CONTENT_BLOCKED"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeMaintenance    = "MAINTENANCE"
)

// ---------------------------------------------------------------------------
// Envelope: used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw event for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared wire entities
// ---------------------------------------------------------------------------

// Message is the wire representation of a persisted chat message, with the
// sender's display fields denormalized for rendering.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderName     string     `json:"senderName,omitempty"`
	SenderAvatar   string     `json:"senderAvatar,omitempty"`
	Content        string     `json:"content"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ---------------------------------------------------------------------------
// Client -> Server event structs
// ---------------------------------------------------------------------------

// JoinConversationEvt is sent by the client to join a conversation room that
// was not known at connect time. The server replies with the full history.
type JoinConversationEvt struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// SendMessageEvt is sent by the client to post a message to a conversation.
type SendMessageEvt struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// TypingEvt indicates whether the client is currently typing in a conversation.
type TypingEvt struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// PingEvt is a client-initiated keepalive ping.
type PingEvt struct {
	Type string `json:"type"`
}

// GetStatsEvt requests connection diagnostics from the server.
type GetStatsEvt struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client event structs
// ---------------------------------------------------------------------------

// ConnectedEvt is sent once after the connection has been authenticated.
type ConnectedEvt struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	UserID  string `json:"userId"`
}

// ErrorEvt communicates a connection-level error. For authentication failures
// the connection is closed immediately after this event is sent.
type ErrorEvt struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// MessageErrorEvt is a sender-scoped rejection of a send-message event. It is
// never broadcast. Violations is populated only for moderation rejections.
type MessageErrorEvt struct {
	Error      string   `json:"error"`
	Code       string   `json:"code"`
	Violations []string `json:"violations,omitempty"`
}

// FrameErrorEvt reports a malformed or unsupported inbound frame to its
// sender.
type FrameErrorEvt struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ConversationHistoryEvt carries the ordered message history of a
// conversation, sent only to the requester of a join-conversation event.
type ConversationHistoryEvt struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// NewMessageEvt broadcasts a freshly persisted message to the conversation
// room, including the sender's own other connections.
type NewMessageEvt struct {
	Message Message `json:"message"`
}

// ConversationUpdatedEvt is a lightweight notice sent to each non-sender
// participant's personal room so conversation lists can update without the
// client being joined to the conversation room.
type ConversationUpdatedEvt struct {
	ConversationID string  `json:"conversationId"`
	LastMessage    Message `json:"lastMessage"`
}

// UserTypingEvt relays a participant's typing indicator to every other room
// member. It is ephemeral and never persisted.
type UserTypingEvt struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// PongEvt is the server's response to a client ping.
type PongEvt struct {
	Timestamp int64  `json:"timestamp"`
	Uptime    int64  `json:"uptime"`
	UserID    string `json:"userId"`
}

// StatsEvt carries connection diagnostics back to the requester.
type StatsEvt struct {
	TotalConnections   int   `json:"totalConnections"`
	YourConnectionTime int64 `json:"yourConnectionTime"`
	OnlineUsers        int64 `json:"onlineUsers,omitempty"`
}

// MaintenanceEvt precedes an administrative disconnect of every connection.
type MaintenanceEvt struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientEvent parses raw WebSocket bytes into a typed client event.
// It returns the event type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only event types.
func ParseClientEvent(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse event: %w", err)
	}

	var (
		evt interface{}
		err error
	)

	switch env.Type {
	case TypeJoinConversation:
		var e JoinConversationEvt
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeSendMessage:
		var e SendMessageEvt
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeTyping:
		var e TypingEvt
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypePing:
		var e PingEvt
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	case TypeGetStats:
		var e GetStatsEvt
		err = json.Unmarshal(env.Raw, &e)
		evt = e
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client event type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, evt, nil
}

// NewServerEvent creates a JSON-encoded byte slice for a server event.
// The evtType is injected into the payload under the "type" key. The payload
// should be one of the *Evt structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerEvent(evtType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = evtType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server event: %w", err)
	}
	return out, nil
}
