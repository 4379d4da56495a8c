package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// pairKey canonicalises a direct conversation's participant pair so the same
// two users always map to the same key regardless of argument order.
func pairKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// EnsureDirect returns the direct conversation between two users, creating it
// if it does not exist yet. Repeated calls with the same pair, in either
// order, always yield the same conversation.
func (s *Store) EnsureDirect(ctx context.Context, userA, userB string) (*Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, ErrTooFewParticipants
	}
	key := pairKey(userA, userB)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	const insertConv = `
		INSERT INTO conversations (id, is_group, pair_key)
		VALUES ($1, FALSE, $2)
		ON CONFLICT (pair_key) DO NOTHING`
	id := uuid.NewString()
	res, err := tx.ExecContext(ctx, insertConv, id, key)
	if err != nil {
		return nil, fmt.Errorf("store: ensure conversation: %w", err)
	}

	created, _ := res.RowsAffected()
	if created > 0 {
		const insertPart = `
			INSERT INTO conversation_participants (conversation_id, user_id)
			VALUES ($1, $2), ($1, $3)`
		if _, err := tx.ExecContext(ctx, insertPart, id, userA, userB); err != nil {
			return nil, fmt.Errorf("store: add participants: %w", err)
		}
	} else {
		const selectID = `SELECT id FROM conversations WHERE pair_key = $1`
		if err := tx.QueryRowContext(ctx, selectID, key).Scan(&id); err != nil {
			return nil, fmt.Errorf("store: lookup pair: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return s.Get(ctx, id)
}

// CreateGroup creates a named group conversation. Duplicate participant IDs
// are collapsed; fewer than two distinct participants is an error.
func (s *Store) CreateGroup(ctx context.Context, name string, participantIDs []string) (*Conversation, error) {
	participants := lo.Uniq(lo.Filter(participantIDs, func(id string, _ int) bool {
		return id != ""
	}))
	if len(participants) < 2 {
		return nil, ErrTooFewParticipants
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	const insertConv = `
		INSERT INTO conversations (id, is_group, name)
		VALUES ($1, TRUE, $2)`
	id := uuid.NewString()
	if _, err := tx.ExecContext(ctx, insertConv, id, name); err != nil {
		return nil, fmt.Errorf("store: create group: %w", err)
	}

	const insertPart = `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2)`
	for _, userID := range participants {
		if _, err := tx.ExecContext(ctx, insertPart, id, userID); err != nil {
			return nil, fmt.Errorf("store: add participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return s.Get(ctx, id)
}

// Get loads a conversation with its participant list.
func (s *Store) Get(ctx context.Context, conversationID string) (*Conversation, error) {
	const query = `
		SELECT id, is_group, COALESCE(name, ''),
		       last_message_content, last_message_sender_id, last_message_at,
		       created_at, updated_at
		FROM conversations
		WHERE id = $1`

	var (
		conv       Conversation
		lmContent  sql.NullString
		lmSenderID sql.NullString
		lmAt       sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, conversationID).Scan(
		&conv.ID, &conv.IsGroup, &conv.Name,
		&lmContent, &lmSenderID, &lmAt,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	if lmContent.Valid {
		conv.LastMessage = &LastMessage{
			Content:  lmContent.String,
			SenderID: lmSenderID.String,
			SentAt:   lmAt.Time,
		}
	}

	conv.Participants, err = s.participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListForUser returns the user's conversations, most recently active first.
// Activity is the last message time, falling back to creation time for
// conversations with no messages yet.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]Conversation, error) {
	const query = `
		SELECT c.id, c.is_group, COALESCE(c.name, ''),
		       c.last_message_content, c.last_message_sender_id, c.last_message_at,
		       c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var (
			conv       Conversation
			lmContent  sql.NullString
			lmSenderID sql.NullString
			lmAt       sql.NullTime
		)
		if err := rows.Scan(
			&conv.ID, &conv.IsGroup, &conv.Name,
			&lmContent, &lmSenderID, &lmAt,
			&conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		if lmContent.Valid {
			conv.LastMessage = &LastMessage{
				Content:  lmContent.String,
				SenderID: lmSenderID.String,
				SentAt:   lmAt.Time,
			}
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}

	for i := range convs {
		convs[i].Participants, err = s.participants(ctx, convs[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return convs, nil
}

// IsParticipant reports whether the user is a member of the conversation.
// A missing conversation yields ErrNotFound.
func (s *Store) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM conversation_participants
			WHERE conversation_id = $1 AND user_id = $2)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: membership check: %w", err)
	}
	if !exists {
		var convExists bool
		const convQuery = `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`
		if err := s.db.QueryRowContext(ctx, convQuery, conversationID).Scan(&convExists); err != nil {
			return false, fmt.Errorf("store: conversation check: %w", err)
		}
		if !convExists {
			return false, ErrNotFound
		}
	}
	return exists, nil
}

func (s *Store) participants(ctx context.Context, conversationID string) ([]string, error) {
	const query = `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: participants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: participants: %w", err)
	}
	return ids, nil
}
