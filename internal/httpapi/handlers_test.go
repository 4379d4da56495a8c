package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dressly/chat-service/internal/auth"
	"github.com/dressly/chat-service/internal/chat"
	"github.com/dressly/chat-service/internal/store"
)

const testSecret = "test-secret-for-httpapi"

// fakeService is a scriptable ChatService.
type fakeService struct {
	sendErr    error
	historyErr error
	lastSender string
	lastConv   string
	groupCalls int
}

func (f *fakeService) Send(_ context.Context, senderID, conversationID, content string) (*store.Message, error) {
	f.lastSender = senderID
	f.lastConv = conversationID
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &store.Message{
		ID:             "m1",
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      time.Now(),
	}, nil
}

func (f *fakeService) History(_ context.Context, userID, conversationID string, _ int) ([]store.Message, error) {
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return []store.Message{
		{ID: "m1", ConversationID: conversationID, SenderID: "bob", Content: "hello"},
	}, nil
}

func (f *fakeService) EnsureConversation(_ context.Context, userID, otherUserID string) (*store.Conversation, error) {
	return &store.Conversation{
		ID:           "conv-1",
		Participants: []string{userID, otherUserID},
	}, nil
}

func (f *fakeService) CreateGroup(_ context.Context, creatorID, name string, participantIDs []string) (*store.Conversation, error) {
	f.groupCalls++
	return &store.Conversation{
		ID:           "conv-g",
		IsGroup:      true,
		Name:         name,
		Participants: append([]string{creatorID}, participantIDs...),
	}, nil
}

func (f *fakeService) ListConversations(_ context.Context, userID string) ([]store.Conversation, error) {
	return []store.Conversation{
		{ID: "conv-1", Participants: []string{userID, "bob"}},
	}, nil
}

func newTestServer(t *testing.T, svc ChatService) (*httptest.Server, string) {
	t.Helper()
	verifier := auth.NewVerifier(testSecret)
	token, err := verifier.Issue("alice", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	mux := http.NewServeMux()
	NewHandler(svc, verifier).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, token
}

func doRequest(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reqBody *strings.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	} else {
		reqBody = strings.NewReader("")
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestAuth_MissingToken(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	resp, body := doRequest(t, "GET", srv.URL+"/chat/conversations", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if body["code"] != "NO_TOKEN" {
		t.Errorf("code = %v, want NO_TOKEN", body["code"])
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	srv, _ := newTestServer(t, &fakeService{})

	resp, body := doRequest(t, "GET", srv.URL+"/chat/conversations", "garbage", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if body["code"] != "AUTH_FAILED" {
		t.Errorf("code = %v, want AUTH_FAILED", body["code"])
	}
}

func TestCreateConversation_Direct(t *testing.T) {
	svc := &fakeService{}
	srv, token := newTestServer(t, svc)

	resp, body := doRequest(t, "POST", srv.URL+"/chat/conversations", token,
		`{"participantId":"bob"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body=%v)", resp.StatusCode, body)
	}
	if body["id"] != "conv-1" {
		t.Errorf("id = %v, want conv-1", body["id"])
	}
	participants, _ := body["participants"].([]any)
	if len(participants) != 2 {
		t.Errorf("participants = %v", body["participants"])
	}
}

func TestCreateConversation_Group(t *testing.T) {
	svc := &fakeService{}
	srv, token := newTestServer(t, svc)

	resp, body := doRequest(t, "POST", srv.URL+"/chat/conversations", token,
		`{"name":"team","participantIds":["bob","carol"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body=%v)", resp.StatusCode, body)
	}
	if svc.groupCalls != 1 {
		t.Errorf("groupCalls = %d, want 1", svc.groupCalls)
	}
	if body["isGroup"] != true {
		t.Errorf("isGroup = %v, want true", body["isGroup"])
	}
}

func TestCreateConversation_MissingFields(t *testing.T) {
	srv, token := newTestServer(t, &fakeService{})

	resp, body := doRequest(t, "POST", srv.URL+"/chat/conversations", token, `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (body=%v)", resp.StatusCode, body)
	}
}

func TestListConversations(t *testing.T) {
	srv, token := newTestServer(t, &fakeService{})

	resp, body := doRequest(t, "GET", srv.URL+"/chat/conversations", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	convs, _ := body["conversations"].([]any)
	if len(convs) != 1 {
		t.Errorf("conversations = %v, want 1 entry", body["conversations"])
	}
}

func TestListMessages(t *testing.T) {
	srv, token := newTestServer(t, &fakeService{})

	resp, body := doRequest(t, "GET", srv.URL+"/chat/conversations/conv-1/messages", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%v)", resp.StatusCode, body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("messages = %v, want 1 entry", body["messages"])
	}
}

func TestListMessages_Forbidden(t *testing.T) {
	srv, token := newTestServer(t, &fakeService{historyErr: chat.ErrForbidden})

	resp, body := doRequest(t, "GET", srv.URL+"/chat/conversations/conv-1/messages", token, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
	if body["code"] != "FORBIDDEN" {
		t.Errorf("code = %v, want FORBIDDEN", body["code"])
	}
}

func TestListMessages_BadLimit(t *testing.T) {
	srv, token := newTestServer(t, &fakeService{})

	resp, _ := doRequest(t, "GET", srv.URL+"/chat/conversations/conv-1/messages?limit=abc", token, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSendMessage_Created(t *testing.T) {
	svc := &fakeService{}
	srv, token := newTestServer(t, svc)

	resp, body := doRequest(t, "POST", srv.URL+"/chat/messages", token,
		`{"conversationId":"conv-1","content":"hello"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body=%v)", resp.StatusCode, body)
	}
	if svc.lastSender != "alice" || svc.lastConv != "conv-1" {
		t.Errorf("service called with sender=%s conv=%s", svc.lastSender, svc.lastConv)
	}
}

func TestSendMessage_Blocked(t *testing.T) {
	svc := &fakeService{sendErr: &chat.ContentBlockedError{
		Violations: []string{"Sharing phone numbers is not allowed"},
	}}
	srv, token := newTestServer(t, svc)

	resp, body := doRequest(t, "POST", srv.URL+"/chat/messages", token,
		`{"conversationId":"conv-1","content":"call me at 12345678"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body=%v)", resp.StatusCode, body)
	}
	if body["code"] != "CONTENT_BLOCKED" {
		t.Errorf("code = %v, want CONTENT_BLOCKED", body["code"])
	}
	violations, _ := body["violations"].([]any)
	if len(violations) != 1 {
		t.Errorf("violations = %v, want 1 entry", body["violations"])
	}
}

func TestSendMessage_NotFound(t *testing.T) {
	srv, token := newTestServer(t, &fakeService{sendErr: chat.ErrNotFound})

	resp, body := doRequest(t, "POST", srv.URL+"/chat/messages", token,
		`{"conversationId":"nope","content":"hi"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (body=%v)", resp.StatusCode, body)
	}
}

func TestSendMessage_InvalidBody(t *testing.T) {
	srv, token := newTestServer(t, &fakeService{})

	resp, _ := doRequest(t, "POST", srv.URL+"/chat/messages", token, `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
