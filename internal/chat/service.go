// Package chat implements the conversation service: the authorize, moderate,
// persist, fan-out pipeline behind every message, plus conversation
// management and history reads. It sits between the transport layers
// (WebSocket sessions, HTTP API) and the store, so both paths share one set
// of rules.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dressly/chat-service/internal/metrics"
	"github.com/dressly/chat-service/internal/moderation"
	"github.com/dressly/chat-service/internal/protocol"
	"github.com/dressly/chat-service/internal/registry"
	"github.com/dressly/chat-service/internal/store"
)

// Store is the persistence surface the service depends on.
type Store interface {
	EnsureDirect(ctx context.Context, userA, userB string) (*store.Conversation, error)
	CreateGroup(ctx context.Context, name string, participantIDs []string) (*store.Conversation, error)
	Get(ctx context.Context, conversationID string) (*store.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]store.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	CreateMessage(ctx context.Context, conversationID, senderID, content string) (*store.Message, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error)
	HasPriorPurchase(ctx context.Context, userA, userB string) (bool, error)
}

// Moderator decides whether content may be delivered.
type Moderator interface {
	Moderate(ctx context.Context, text string, hasPriorPurchase bool) moderation.Result
}

// Rooms is the local fan-out surface, satisfied by *registry.Registry.
type Rooms interface {
	BroadcastToRoom(roomID string, data []byte)
	BroadcastToRoomExcept(roomID, exceptConnID string, data []byte)
	SendToUser(userID string, data []byte)
}

// Bridge relays events to peer instances so fan-out reaches connections
// held elsewhere. A nil bridge means single-instance operation.
type Bridge interface {
	PublishToConversation(conversationID string, data []byte) error
	PublishToUser(userID string, data []byte) error
}

// Service implements the chat operations shared by all transports.
type Service struct {
	store     Store
	moderator Moderator
	rooms     Rooms
	bridge    Bridge
}

// NewService wires the chat pipeline. bridge may be nil.
func NewService(st Store, mod Moderator, rooms Rooms, bridge Bridge) *Service {
	return &Service{store: st, moderator: mod, rooms: rooms, bridge: bridge}
}

// WireMessage converts a persisted message to its wire representation.
func WireMessage(m *store.Message) protocol.Message {
	return protocol.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		SenderAvatar:   m.SenderAvatar,
		Content:        m.Content,
		ReadAt:         m.ReadAt,
		CreatedAt:      m.CreatedAt,
	}
}

// Send runs the full message pipeline: structural validation, membership
// authorization, moderation, persistence, and fan-out. The returned message
// is the persisted record with sender display fields populated.
func (s *Service) Send(ctx context.Context, senderID, conversationID, content string) (*store.Message, error) {
	if err := ValidateContent(content); err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, &InvalidContentError{Reason: err.Error()}
	}

	conv, err := s.authorize(ctx, conversationID, senderID)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	hasPurchase, err := s.priorPurchase(ctx, conv, senderID)
	if err != nil {
		// Gate conservatively when the purchase lookup fails.
		log.Printf("chat: purchase lookup failed conv=%s sender=%s: %v", conversationID, senderID, err)
		hasPurchase = false
	}

	verdict := s.moderator.Moderate(ctx, content, hasPurchase)
	if !verdict.IsAllowed {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		log.Printf("chat: blocked message conv=%s sender=%s violations=%d",
			conversationID, senderID, len(verdict.Violations))
		return nil, &ContentBlockedError{
			Violations: verdict.Violations,
			Masked:     verdict.MaskedContent,
		}
	}

	msg, err := s.store.CreateMessage(ctx, conversationID, senderID, content)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		switch {
		case errors.Is(err, store.ErrNotParticipant):
			return nil, ErrForbidden
		case errors.Is(err, store.ErrEmptyContent):
			return nil, &InvalidContentError{Reason: "message content is empty"}
		default:
			return nil, fmt.Errorf("chat: persist message: %w", err)
		}
	}

	s.fanOut(conv, msg)
	metrics.MessagesTotal.WithLabelValues("sent").Inc()
	return msg, nil
}

// fanOut delivers a persisted message to the conversation room and notifies
// each non-sender participant's personal channel. Fan-out failures are
// logged, never surfaced: the message is already durable.
func (s *Service) fanOut(conv *store.Conversation, msg *store.Message) {
	wire := WireMessage(msg)

	if data, err := protocol.NewServerEvent(protocol.TypeNewMessage, protocol.NewMessageEvt{Message: wire}); err == nil {
		room := registry.ConversationRoom(msg.ConversationID)
		s.rooms.BroadcastToRoom(room, data)
		metrics.BroadcastsTotal.WithLabelValues(protocol.TypeNewMessage).Inc()
		if s.bridge != nil {
			if err := s.bridge.PublishToConversation(msg.ConversationID, data); err != nil {
				log.Printf("chat: bridge publish conv=%s: %v", msg.ConversationID, err)
			}
		}
	} else {
		log.Printf("chat: encode new-message: %v", err)
	}

	updated, err := protocol.NewServerEvent(protocol.TypeConversationUpdated, protocol.ConversationUpdatedEvt{
		ConversationID: msg.ConversationID,
		LastMessage:    wire,
	})
	if err != nil {
		log.Printf("chat: encode conversation-updated: %v", err)
		return
	}
	for _, userID := range conv.Participants {
		if userID == msg.SenderID {
			continue
		}
		s.rooms.SendToUser(userID, updated)
		metrics.BroadcastsTotal.WithLabelValues(protocol.TypeConversationUpdated).Inc()
		if s.bridge != nil {
			if err := s.bridge.PublishToUser(userID, updated); err != nil {
				log.Printf("chat: bridge publish user=%s: %v", userID, err)
			}
		}
	}
}

// Typing relays an ephemeral typing indicator to the other members of the
// conversation room. It is never persisted and silently dropped when the
// user is not a participant.
func (s *Service) Typing(ctx context.Context, userID, connID, conversationID string, isTyping bool) {
	ok, err := s.store.IsParticipant(ctx, conversationID, userID)
	if err != nil || !ok {
		return
	}

	data, err := protocol.NewServerEvent(protocol.TypeUserTyping, protocol.UserTypingEvt{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	})
	if err != nil {
		log.Printf("chat: encode user-typing: %v", err)
		return
	}
	room := registry.ConversationRoom(conversationID)
	s.rooms.BroadcastToRoomExcept(room, connID, data)
	metrics.BroadcastsTotal.WithLabelValues(protocol.TypeUserTyping).Inc()
	if s.bridge != nil {
		if err := s.bridge.PublishToConversation(conversationID, data); err != nil {
			log.Printf("chat: bridge publish conv=%s: %v", conversationID, err)
		}
	}
}

// History returns the conversation's messages in chronological order. The
// requesting user must be a participant.
func (s *Service) History(ctx context.Context, userID, conversationID string, limit int) ([]store.Message, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: history: %w", err)
	}
	return msgs, nil
}

// EnsureConversation returns the direct conversation between the requester
// and the other user, creating it when absent.
func (s *Service) EnsureConversation(ctx context.Context, userID, otherUserID string) (*store.Conversation, error) {
	conv, err := s.store.EnsureDirect(ctx, userID, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("chat: ensure conversation: %w", err)
	}
	return conv, nil
}

// CreateGroup creates a named group conversation. The creator is always a
// participant, whether or not the caller listed them.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, participantIDs []string) (*store.Conversation, error) {
	conv, err := s.store.CreateGroup(ctx, name, append([]string{creatorID}, participantIDs...))
	if err != nil {
		return nil, fmt.Errorf("chat: create group: %w", err)
	}
	return conv, nil
}

// ListConversations returns the user's conversations, most recently active
// first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]store.Conversation, error) {
	convs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversations: %w", err)
	}
	return convs, nil
}

// Conversations returns the IDs of the user's conversations, used at connect
// time to join the rooms in one pass.
func (s *Service) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	convs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("chat: list conversation ids: %w", err)
	}
	ids := make([]string, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	return ids, nil
}

// authorize loads the conversation and verifies membership, translating
// store sentinels into the service error taxonomy.
func (s *Service) authorize(ctx context.Context, conversationID, userID string) (*store.Conversation, error) {
	conv, err := s.store.Get(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chat: load conversation: %w", err)
	}
	for _, p := range conv.Participants {
		if p == userID {
			return conv, nil
		}
	}
	return nil, ErrForbidden
}

// priorPurchase resolves the moderation gate for a sender. Only direct
// conversations can relax the gate; groups always moderate strictly.
func (s *Service) priorPurchase(ctx context.Context, conv *store.Conversation, senderID string) (bool, error) {
	if conv.IsGroup || len(conv.Participants) != 2 {
		return false, nil
	}
	other := conv.Participants[0]
	if other == senderID {
		other = conv.Participants[1]
	}
	return s.store.HasPriorPurchase(ctx, senderID, other)
}
