// Package store provides PostgreSQL-backed persistence for conversations,
// messages and the purchase lookups the moderation gate depends on.
// Schema changes ship as embedded migrations applied at startup.
package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the requested conversation does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNotParticipant indicates the user is not a member of the conversation.
	ErrNotParticipant = errors.New("store: user is not a participant")
	// ErrEmptyContent indicates a message with no usable content.
	ErrEmptyContent = errors.New("store: empty message content")
	// ErrTooFewParticipants indicates a conversation with fewer than two
	// distinct members.
	ErrTooFewParticipants = errors.New("store: conversation needs at least two participants")
)

// Conversation is a persistent container of messages between a fixed set of
// participants. Direct conversations hold exactly two users and are unique
// per pair; group conversations carry a name.
type Conversation struct {
	ID           string
	IsGroup      bool
	Name         string
	Participants []string
	LastMessage  *LastMessage
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LastMessage is the denormalised preview of the most recent message,
// kept on the conversation row so listing does not join the messages table.
type LastMessage struct {
	Content  string
	SenderID string
	SentAt   time.Time
}

// Message is a persisted chat message with its sender's display fields
// joined in.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderAvatar   string
	Content        string
	ReadAt         *time.Time
	CreatedAt      time.Time
}
