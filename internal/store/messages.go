package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateMessage persists a message after re-checking the sender's membership
// inside the same transaction, and atomically refreshes the conversation's
// denormalised last-message preview. The membership check runs here even
// though the caller already authorised the sender, so a concurrent removal
// cannot slip a message into a conversation the sender just left.
func (s *Store) CreateMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	const memberQuery = `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2)`
	var isMember bool
	if err := tx.QueryRowContext(ctx, memberQuery, conversationID, senderID).Scan(&isMember); err != nil {
		return nil, fmt.Errorf("store: membership check: %w", err)
	}
	if !isMember {
		return nil, ErrNotParticipant
	}

	msg := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}

	const insertMsg = `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := tx.ExecContext(ctx, insertMsg,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Content, msg.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	const updateConv = `
		UPDATE conversations
		SET last_message_content = $2,
		    last_message_sender_id = $3,
		    last_message_at = $4,
		    updated_at = $4
		WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateConv,
		msg.ConversationID, msg.Content, msg.SenderID, msg.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("store: update last message: %w", err)
	}

	const senderQuery = `
		SELECT COALESCE(full_name, ''), COALESCE(profile_picture, '')
		FROM users WHERE id = $1`
	if err := tx.QueryRowContext(ctx, senderQuery, senderID).Scan(
		&msg.SenderName, &msg.SenderAvatar,
	); err != nil {
		return nil, fmt.Errorf("store: sender lookup: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return msg, nil
}

// ListMessages returns the conversation's messages in chronological order,
// oldest first, with sender display fields joined in. Timestamp ties break on
// insertion order. A limit of zero means no limit.
func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	query := `
		SELECT m.id, m.conversation_id, m.sender_id,
		       COALESCE(u.full_name, ''), COALESCE(u.profile_picture, ''),
		       m.content, m.read_at, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at ASC, m.seq ASC`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID,
			&m.SenderName, &m.SenderAvatar,
			&m.Content, &m.ReadAt, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return msgs, nil
}

// HasPriorPurchase reports whether a completed order exists between the two
// users, in either buyer/seller direction. The moderation gate relaxes
// contact-information rules once the pair has transacted.
func (s *Store) HasPriorPurchase(ctx context.Context, userA, userB string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM orders
			WHERE status = 'completed'
			  AND ((buyer_id = $1 AND seller_id = $2)
			    OR (buyer_id = $2 AND seller_id = $1)))`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, userA, userB).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: purchase check: %w", err)
	}
	return exists, nil
}
