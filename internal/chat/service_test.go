package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/dressly/chat-service/internal/moderation"
	"github.com/dressly/chat-service/internal/registry"
	"github.com/dressly/chat-service/internal/store"
)

// fakeStore is an in-memory Store for pipeline tests.
type fakeStore struct {
	convs     map[string]*store.Conversation
	messages  map[string][]store.Message
	purchases map[string]bool // pairKey -> purchased
	nextID    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:     make(map[string]*store.Conversation),
		messages:  make(map[string][]store.Message),
		purchases: make(map[string]bool),
	}
}

func (f *fakeStore) pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

func (f *fakeStore) addDirect(userA, userB string) *store.Conversation {
	f.nextID++
	conv := &store.Conversation{
		ID:           fmt.Sprintf("conv-%d", f.nextID),
		Participants: []string{userA, userB},
		CreatedAt:    time.Now(),
	}
	f.convs[conv.ID] = conv
	return conv
}

func (f *fakeStore) EnsureDirect(_ context.Context, userA, userB string) (*store.Conversation, error) {
	if userA == userB {
		return nil, store.ErrTooFewParticipants
	}
	key := f.pairKey(userA, userB)
	for _, c := range f.convs {
		if !c.IsGroup && len(c.Participants) == 2 && f.pairKey(c.Participants[0], c.Participants[1]) == key {
			return c, nil
		}
	}
	return f.addDirect(userA, userB), nil
}

func (f *fakeStore) CreateGroup(_ context.Context, name string, participantIDs []string) (*store.Conversation, error) {
	seen := map[string]bool{}
	var unique []string
	for _, id := range participantIDs {
		if id != "" && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) < 2 {
		return nil, store.ErrTooFewParticipants
	}
	f.nextID++
	conv := &store.Conversation{
		ID:           fmt.Sprintf("conv-%d", f.nextID),
		IsGroup:      true,
		Name:         name,
		Participants: unique,
		CreatedAt:    time.Now(),
	}
	f.convs[conv.ID] = conv
	return conv, nil
}

func (f *fakeStore) Get(_ context.Context, id string) (*store.Conversation, error) {
	conv, ok := f.convs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) ListForUser(_ context.Context, userID string) ([]store.Conversation, error) {
	var out []store.Conversation
	for _, c := range f.convs {
		for _, p := range c.Participants {
			if p == userID {
				out = append(out, *c)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	conv, ok := f.convs[conversationID]
	if !ok {
		return false, store.ErrNotFound
	}
	for _, p := range conv.Participants {
		if p == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateMessage(_ context.Context, conversationID, senderID, content string) (*store.Message, error) {
	conv, ok := f.convs[conversationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	member := false
	for _, p := range conv.Participants {
		if p == senderID {
			member = true
		}
	}
	if !member {
		return nil, store.ErrNotParticipant
	}
	f.nextID++
	msg := store.Message{
		ID:             fmt.Sprintf("msg-%d", f.nextID),
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	f.messages[conversationID] = append(f.messages[conversationID], msg)
	conv.LastMessage = &store.LastMessage{Content: content, SenderID: senderID, SentAt: msg.CreatedAt}
	return &msg, nil
}

func (f *fakeStore) ListMessages(_ context.Context, conversationID string, limit int) ([]store.Message, error) {
	msgs := f.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (f *fakeStore) HasPriorPurchase(_ context.Context, userA, userB string) (bool, error) {
	return f.purchases[f.pairKey(userA, userB)], nil
}

// fakeRooms records every fan-out call.
type fakeRooms struct {
	roomSends [][2]string // roomID, payload
	userSends [][2]string // userID, payload
	excluded  []string
}

func (f *fakeRooms) BroadcastToRoom(roomID string, data []byte) {
	f.roomSends = append(f.roomSends, [2]string{roomID, string(data)})
}

func (f *fakeRooms) BroadcastToRoomExcept(roomID, exceptConnID string, data []byte) {
	f.roomSends = append(f.roomSends, [2]string{roomID, string(data)})
	f.excluded = append(f.excluded, exceptConnID)
}

func (f *fakeRooms) SendToUser(userID string, data []byte) {
	f.userSends = append(f.userSends, [2]string{userID, string(data)})
}

func newTestService() (*Service, *fakeStore, *fakeRooms) {
	st := newFakeStore()
	rooms := &fakeRooms{}
	svc := NewService(st, moderation.NewEngine(nil, nil), rooms, nil)
	return svc, st, rooms
}

func TestSend_DeliversToRoomAndNotifiesParticipants(t *testing.T) {
	svc, st, rooms := newTestService()
	conv := st.addDirect("alice", "bob")

	msg, err := svc.Send(context.Background(), "alice", conv.ID, "hello bob")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == "" || msg.Content != "hello bob" {
		t.Errorf("persisted message = %+v", msg)
	}

	if len(rooms.roomSends) != 1 {
		t.Fatalf("got %d room broadcasts, want 1", len(rooms.roomSends))
	}
	wantRoom := registry.ConversationRoom(conv.ID)
	if rooms.roomSends[0][0] != wantRoom {
		t.Errorf("broadcast room = %s, want %s", rooms.roomSends[0][0], wantRoom)
	}
	var evt map[string]any
	if err := json.Unmarshal([]byte(rooms.roomSends[0][1]), &evt); err != nil {
		t.Fatalf("broadcast payload not JSON: %v", err)
	}
	if evt["type"] != "new-message" {
		t.Errorf("broadcast type = %v, want new-message", evt["type"])
	}

	if len(rooms.userSends) != 1 || rooms.userSends[0][0] != "bob" {
		t.Errorf("conversation-updated sends = %v, want exactly one to bob", rooms.userSends)
	}
}

func TestSend_BlockedContactInfoWithoutPurchase(t *testing.T) {
	svc, st, rooms := newTestService()
	conv := st.addDirect("alice", "bob")

	_, err := svc.Send(context.Background(), "alice", conv.ID, "call me at 12345678")
	var blocked *ContentBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("err = %v, want ContentBlockedError", err)
	}
	if len(blocked.Violations) == 0 {
		t.Error("blocked error carries no violations")
	}
	if strings.Contains(blocked.Masked, "12345678") {
		t.Errorf("masked content leaks the number: %q", blocked.Masked)
	}

	if len(st.messages[conv.ID]) != 0 {
		t.Error("blocked message was persisted")
	}
	if len(rooms.roomSends) != 0 || len(rooms.userSends) != 0 {
		t.Error("blocked message was fanned out")
	}
}

func TestSend_ContactInfoAllowedAfterPurchase(t *testing.T) {
	svc, st, _ := newTestService()
	conv := st.addDirect("alice", "bob")
	st.purchases[st.pairKey("alice", "bob")] = true

	if _, err := svc.Send(context.Background(), "alice", conv.ID, "call me at 12345678"); err != nil {
		t.Fatalf("Send after purchase: %v", err)
	}
}

func TestSend_ProfanityBlockedRegardlessOfPurchase(t *testing.T) {
	svc, st, _ := newTestService()
	conv := st.addDirect("alice", "bob")
	st.purchases[st.pairKey("alice", "bob")] = true

	_, err := svc.Send(context.Background(), "alice", conv.ID, "you are an asshole")
	var blocked *ContentBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("err = %v, want ContentBlockedError", err)
	}
}

func TestSend_GroupAlwaysModeratesStrictly(t *testing.T) {
	svc, st, _ := newTestService()
	conv, err := st.CreateGroup(context.Background(), "deals", []string{"alice", "bob", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	st.purchases[st.pairKey("alice", "bob")] = true

	_, err = svc.Send(context.Background(), "alice", conv.ID, "email me john@example.com")
	var blocked *ContentBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("err = %v, want ContentBlockedError in group chat", err)
	}
}

func TestSend_NonParticipant(t *testing.T) {
	svc, st, _ := newTestService()
	conv := st.addDirect("alice", "bob")

	if _, err := svc.Send(context.Background(), "eve", conv.ID, "hi"); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestSend_UnknownConversation(t *testing.T) {
	svc, _, _ := newTestService()

	if _, err := svc.Send(context.Background(), "alice", "nope", "hi"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSend_EmptyContent(t *testing.T) {
	svc, st, _ := newTestService()
	conv := st.addDirect("alice", "bob")

	_, err := svc.Send(context.Background(), "alice", conv.ID, "   ")
	var invalid *InvalidContentError
	if !errors.As(err, &invalid) {
		t.Errorf("err = %v, want InvalidContentError", err)
	}
}

func TestTyping_ExcludesOriginConnection(t *testing.T) {
	svc, st, rooms := newTestService()
	conv := st.addDirect("alice", "bob")

	svc.Typing(context.Background(), "alice", "conn-1", conv.ID, true)

	if len(rooms.roomSends) != 1 {
		t.Fatalf("got %d broadcasts, want 1", len(rooms.roomSends))
	}
	if len(rooms.excluded) != 1 || rooms.excluded[0] != "conn-1" {
		t.Errorf("excluded = %v, want [conn-1]", rooms.excluded)
	}
	var evt map[string]any
	if err := json.Unmarshal([]byte(rooms.roomSends[0][1]), &evt); err != nil {
		t.Fatal(err)
	}
	if evt["type"] != "user-typing" || evt["isTyping"] != true {
		t.Errorf("typing event = %v", evt)
	}
}

func TestTyping_NonParticipantDropped(t *testing.T) {
	svc, st, rooms := newTestService()
	conv := st.addDirect("alice", "bob")

	svc.Typing(context.Background(), "eve", "conn-9", conv.ID, true)

	if len(rooms.roomSends) != 0 {
		t.Errorf("typing from non-participant was relayed: %v", rooms.roomSends)
	}
}

func TestHistory_RequiresMembership(t *testing.T) {
	svc, st, _ := newTestService()
	conv := st.addDirect("alice", "bob")
	if _, err := svc.Send(context.Background(), "alice", conv.ID, "hello"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.History(context.Background(), "eve", conv.ID, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}

	msgs, err := svc.History(context.Background(), "bob", conv.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("history = %v", msgs)
	}
}

func TestEnsureConversation_StablePair(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	first, err := svc.EnsureConversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.EnsureConversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("pair produced two conversations: %s vs %s", first.ID, second.ID)
	}
}

func TestCreateGroup_CreatorAlwaysIncluded(t *testing.T) {
	svc, _, _ := newTestService()

	conv, err := svc.CreateGroup(context.Background(), "alice", "team", []string{"bob", "carol"})
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range conv.Participants {
		if p == "alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("creator missing from participants: %v", conv.Participants)
	}
}
