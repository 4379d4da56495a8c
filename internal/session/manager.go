// Package session drives the lifecycle of an authenticated connection: the
// post-handshake greeting, room auto-join, inbound event routing, and
// cleanup on disconnect. It is transport-agnostic; the gateway feeds it
// connections and raw frames.
package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/dressly/chat-service/internal/chat"
	"github.com/dressly/chat-service/internal/protocol"
	"github.com/dressly/chat-service/internal/registry"
	"github.com/dressly/chat-service/internal/store"
)

// opTimeout bounds the database work done on behalf of a single inbound
// event.
const opTimeout = 5 * time.Second

// ChatService is the conversation pipeline the manager routes events into.
type ChatService interface {
	Send(ctx context.Context, senderID, conversationID, content string) (*store.Message, error)
	Typing(ctx context.Context, userID, connID, conversationID string, isTyping bool)
	History(ctx context.Context, userID, conversationID string, limit int) ([]store.Message, error)
	ConversationIDs(ctx context.Context, userID string) ([]string, error)
}

// Presence tracks cross-instance online state. A nil Presence disables it.
type Presence interface {
	Connected(ctx context.Context, userID, connID string) error
	Disconnected(ctx context.Context, userID, connID string) error
	OnlineCount(ctx context.Context) (int64, error)
}

// RateLimiter throttles client events per user. A nil limiter disables
// throttling.
type RateLimiter interface {
	AllowMessage(ctx context.Context, userID string) bool
	AllowTyping(ctx context.Context, userID string) bool
}

// Manager owns the application-level session state machine.
type Manager struct {
	registry  *registry.Registry
	chat      ChatService
	presence  Presence
	limiter   RateLimiter
	startedAt time.Time
}

// NewManager creates a session manager. presence may be nil.
func NewManager(reg *registry.Registry, svc ChatService, presence Presence) *Manager {
	return &Manager{
		registry:  reg,
		chat:      svc,
		presence:  presence,
		startedAt: time.Now(),
	}
}

// SetRateLimiter enables per-user send throttling.
func (m *Manager) SetRateLimiter(limiter RateLimiter) {
	m.limiter = limiter
}

// HandleConnect registers an authenticated connection, greets it, and joins
// it to the rooms of every conversation the user belongs to. The room set is
// a snapshot: conversations created after connect require an explicit
// join-conversation event.
func (m *Manager) HandleConnect(connID, userID string, sender registry.Sender, connectedAt time.Time) {
	if err := m.registry.Register(connID, userID, sender, connectedAt); err != nil {
		log.Printf("session: register conn=%s: %v", connID, err)
		return
	}

	m.reply(connID, protocol.TypeConnected, protocol.ConnectedEvt{
		Message: "Connected to chat server",
		Status:  "ready",
		UserID:  userID,
	})

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ids, err := m.chat.ConversationIDs(ctx, userID)
	if err != nil {
		log.Printf("session: auto-join lookup user=%s: %v", userID, err)
	}
	for _, id := range ids {
		if err := m.registry.JoinRoom(connID, registry.ConversationRoom(id)); err != nil {
			log.Printf("session: auto-join conn=%s conv=%s: %v", connID, id, err)
		}
	}

	if m.presence != nil {
		if err := m.presence.Connected(ctx, userID, connID); err != nil {
			log.Printf("session: presence connect user=%s: %v", userID, err)
		}
	}
}

// HandleDisconnect tears down a connection's session state. Room memberships
// are dropped implicitly by the registry.
func (m *Manager) HandleDisconnect(connID string) {
	prior, ok := m.registry.Unregister(connID)
	if !ok {
		return
	}

	if m.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if err := m.presence.Disconnected(ctx, prior.UserID, connID); err != nil {
			log.Printf("session: presence disconnect user=%s: %v", prior.UserID, err)
		}
	}
}

// HandleMessage parses a raw inbound frame and routes it to the matching
// event handler. Malformed frames are answered with a frame error; the
// connection stays open.
func (m *Manager) HandleMessage(connID, userID string, data []byte) {
	evtType, evt, err := protocol.ParseClientEvent(data)
	if err != nil {
		log.Printf("session: parse error conn=%s: %v", connID, err)
		m.reply(connID, protocol.TypeFrameError, protocol.FrameErrorEvt{
			Error: "invalid event format",
			Code:  protocol.CodeInvalidPayload,
		})
		return
	}

	switch e := evt.(type) {
	case protocol.JoinConversationEvt:
		m.handleJoin(connID, userID, e)
	case protocol.SendMessageEvt:
		m.handleSend(connID, userID, e)
	case protocol.TypingEvt:
		m.handleTyping(connID, userID, e)
	case protocol.PingEvt:
		m.handlePing(connID, userID)
	case protocol.GetStatsEvt:
		m.handleStats(connID)
	default:
		log.Printf("session: unhandled event type=%q conn=%s", evtType, connID)
		m.reply(connID, protocol.TypeFrameError, protocol.FrameErrorEvt{
			Error: "unsupported event type",
			Code:  protocol.CodeInvalidPayload,
		})
	}
}

// handleJoin authorizes the user for the conversation, joins the room, and
// replies with the full message history.
func (m *Manager) handleJoin(connID, userID string, evt protocol.JoinConversationEvt) {
	if evt.ConversationID == "" {
		m.reply(connID, protocol.TypeError, protocol.ErrorEvt{
			Message: "conversationId is required",
			Code:    protocol.CodeInvalidPayload,
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msgs, err := m.chat.History(ctx, userID, evt.ConversationID, 0)
	if err != nil {
		m.replyError(connID, err)
		return
	}

	if err := m.registry.JoinRoom(connID, registry.ConversationRoom(evt.ConversationID)); err != nil {
		log.Printf("session: join room conn=%s conv=%s: %v", connID, evt.ConversationID, err)
		return
	}

	wire := make([]protocol.Message, len(msgs))
	for i := range msgs {
		wire[i] = chat.WireMessage(&msgs[i])
	}
	m.reply(connID, protocol.TypeConversationHistory, protocol.ConversationHistoryEvt{
		ConversationID: evt.ConversationID,
		Messages:       wire,
	})
}

// handleSend runs the message pipeline and reports rejections back to the
// sender only. Successful sends are fanned out by the chat service.
func (m *Manager) handleSend(connID, userID string, evt protocol.SendMessageEvt) {
	if evt.ConversationID == "" {
		m.reply(connID, protocol.TypeMessageError, protocol.MessageErrorEvt{
			Error: "conversationId is required",
			Code:  protocol.CodeInvalidPayload,
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if m.limiter != nil && !m.limiter.AllowMessage(ctx, userID) {
		m.reply(connID, protocol.TypeMessageError, protocol.MessageErrorEvt{
			Error: "sending too fast, slow down",
			Code:  protocol.CodeRateLimited,
		})
		return
	}

	_, err := m.chat.Send(ctx, userID, evt.ConversationID, evt.Content)
	if err == nil {
		return
	}

	var blocked *chat.ContentBlockedError
	var invalid *chat.InvalidContentError
	switch {
	case errors.As(err, &blocked):
		m.reply(connID, protocol.TypeMessageError, protocol.MessageErrorEvt{
			Error:      "Message blocked by content moderation",
			Code:       protocol.CodeContentBlocked,
			Violations: blocked.Violations,
		})
	case errors.As(err, &invalid):
		m.reply(connID, protocol.TypeMessageError, protocol.MessageErrorEvt{
			Error: invalid.Reason,
			Code:  protocol.CodeInvalidPayload,
		})
	case errors.Is(err, chat.ErrNotFound):
		m.reply(connID, protocol.TypeMessageError, protocol.MessageErrorEvt{
			Error: "conversation not found",
			Code:  protocol.CodeNotFound,
		})
	case errors.Is(err, chat.ErrForbidden):
		m.reply(connID, protocol.TypeMessageError, protocol.MessageErrorEvt{
			Error: "not a participant of this conversation",
			Code:  protocol.CodeForbidden,
		})
	default:
		log.Printf("session: send failed conn=%s conv=%s: %v", connID, evt.ConversationID, err)
		m.reply(connID, protocol.TypeMessageError, protocol.MessageErrorEvt{
			Error: "failed to send message",
			Code:  protocol.CodeInternalError,
		})
	}
}

// handleTyping relays a typing indicator. Throttled indicators are dropped
// silently; typing is ephemeral and the next one carries the same signal.
func (m *Manager) handleTyping(connID, userID string, evt protocol.TypingEvt) {
	if evt.ConversationID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if m.limiter != nil && !m.limiter.AllowTyping(ctx, userID) {
		return
	}
	m.chat.Typing(ctx, userID, connID, evt.ConversationID, evt.IsTyping)
}

func (m *Manager) handlePing(connID, userID string) {
	m.reply(connID, protocol.TypePong, protocol.PongEvt{
		Timestamp: time.Now().UnixMilli(),
		Uptime:    int64(time.Since(m.startedAt).Seconds()),
		UserID:    userID,
	})
}

func (m *Manager) handleStats(connID string) {
	evt := protocol.StatsEvt{
		TotalConnections: m.registry.Count(),
	}
	if prior, ok := m.registry.Lookup(connID); ok {
		evt.YourConnectionTime = int64(time.Since(prior.ConnectedAt).Seconds())
	}
	if m.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if n, err := m.presence.OnlineCount(ctx); err == nil {
			evt.OnlineUsers = n
		} else {
			log.Printf("session: online count: %v", err)
		}
	}
	m.reply(connID, protocol.TypeStats, evt)
}

// Maintenance notifies every local connection of an administrative
// disconnect and drains the registry. It returns the encoded notice so the
// caller can relay it to peer instances over the bridge.
func (m *Manager) Maintenance() []byte {
	notice, err := protocol.NewServerEvent(protocol.TypeMaintenance, protocol.MaintenanceEvt{
		Message: "Server is shutting down for maintenance",
		Code:    protocol.CodeMaintenance,
	})
	if err != nil {
		log.Printf("session: encode maintenance notice: %v", err)
		notice = nil
	}
	m.registry.DisconnectAll(notice)
	return notice
}

// Shutdown notifies every connection of the maintenance disconnect and
// forcibly drains the registry.
func (m *Manager) Shutdown() {
	m.Maintenance()
}

// replyError maps a chat service error to the matching error event.
func (m *Manager) replyError(connID string, err error) {
	switch {
	case errors.Is(err, chat.ErrNotFound):
		m.reply(connID, protocol.TypeError, protocol.ErrorEvt{
			Message: "conversation not found",
			Code:    protocol.CodeNotFound,
		})
	case errors.Is(err, chat.ErrForbidden):
		m.reply(connID, protocol.TypeError, protocol.ErrorEvt{
			Message: "not a participant of this conversation",
			Code:    protocol.CodeForbidden,
		})
	default:
		log.Printf("session: operation failed conn=%s: %v", connID, err)
		m.reply(connID, protocol.TypeError, protocol.ErrorEvt{
			Message: "internal error",
			Code:    protocol.CodeInternalError,
		})
	}
}

// reply encodes and delivers a server event to one connection. Delivery
// failures are logged; the transport's read path handles dead connections.
func (m *Manager) reply(connID, evtType string, payload interface{}) {
	data, err := protocol.NewServerEvent(evtType, payload)
	if err != nil {
		log.Printf("session: encode %s: %v", evtType, err)
		return
	}
	if err := m.registry.SendToConn(connID, data); err != nil {
		log.Printf("session: reply %s conn=%s: %v", evtType, connID, err)
	}
}
