package protocol

import (
	"encoding/json"
	"testing"
)

// TestParseClientEvent_ValidEvents verifies each client event type decodes
// into its concrete struct with payload fields intact.
func TestParseClientEvent_ValidEvents(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		check func(t *testing.T, evt interface{})
	}{
		{
			name:  "join conversation",
			input: `{"type":"join-conversation","conversationId":"c-1"}`,
			want:  TypeJoinConversation,
			check: func(t *testing.T, evt interface{}) {
				e, ok := evt.(JoinConversationEvt)
				if !ok {
					t.Fatalf("expected JoinConversationEvt, got %T", evt)
				}
				if e.ConversationID != "c-1" {
					t.Errorf("ConversationID = %q, want %q", e.ConversationID, "c-1")
				}
			},
		},
		{
			name:  "send message",
			input: `{"type":"send-message","conversationId":"c-2","content":"hello"}`,
			want:  TypeSendMessage,
			check: func(t *testing.T, evt interface{}) {
				e, ok := evt.(SendMessageEvt)
				if !ok {
					t.Fatalf("expected SendMessageEvt, got %T", evt)
				}
				if e.ConversationID != "c-2" || e.Content != "hello" {
					t.Errorf("unexpected payload: %+v", e)
				}
			},
		},
		{
			name:  "typing",
			input: `{"type":"typing","conversationId":"c-3","isTyping":true}`,
			want:  TypeTyping,
			check: func(t *testing.T, evt interface{}) {
				e, ok := evt.(TypingEvt)
				if !ok {
					t.Fatalf("expected TypingEvt, got %T", evt)
				}
				if !e.IsTyping {
					t.Errorf("IsTyping = false, want true")
				}
			},
		},
		{
			name:  "ping",
			input: `{"type":"ping"}`,
			want:  TypePing,
			check: func(t *testing.T, evt interface{}) {
				if _, ok := evt.(PingEvt); !ok {
					t.Fatalf("expected PingEvt, got %T", evt)
				}
			},
		},
		{
			name:  "get stats",
			input: `{"type":"get_stats"}`,
			want:  TypeGetStats,
			check: func(t *testing.T, evt interface{}) {
				if _, ok := evt.(GetStatsEvt); !ok {
					t.Fatalf("expected GetStatsEvt, got %T", evt)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, evt, err := ParseClientEvent([]byte(tt.input))
			if err != nil {
				t.Fatalf("ParseClientEvent(%q) error: %v", tt.input, err)
			}
			if typ != tt.want {
				t.Errorf("type = %q, want %q", typ, tt.want)
			}
			tt.check(t, evt)
		})
	}
}

// TestParseClientEvent_Invalid verifies malformed frames and server-only or
// unknown types are rejected.
func TestParseClientEvent_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `{{{`},
		{"missing type", `{"conversationId":"c-1"}`},
		{"empty type", `{"type":""}`},
		{"unknown type", `{"type":"explode"}`},
		{"server-only type", `{"type":"new-message"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseClientEvent([]byte(tt.input))
			if err == nil {
				t.Errorf("ParseClientEvent(%q) expected error, got nil", tt.input)
			}
		})
	}
}

// TestNewServerEvent_InjectsType verifies the type discriminator is injected
// into the serialized payload.
func TestNewServerEvent_InjectsType(t *testing.T) {
	data, err := NewServerEvent(TypeConnected, ConnectedEvt{
		Message: "ready",
		Status:  "ready",
		UserID:  "u-1",
	})
	if err != nil {
		t.Fatalf("NewServerEvent error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if m["type"] != TypeConnected {
		t.Errorf("type = %v, want %q", m["type"], TypeConnected)
	}
	if m["userId"] != "u-1" {
		t.Errorf("userId = %v, want %q", m["userId"], "u-1")
	}
}

// TestNewServerEvent_ViolationsOmittedWhenEmpty verifies moderation rejection
// events omit the violations key when there are none.
func TestNewServerEvent_ViolationsOmittedWhenEmpty(t *testing.T) {
	data, err := NewServerEvent(TypeMessageError, MessageErrorEvt{
		Error: "invalid payload",
		Code:  CodeInvalidPayload,
	})
	if err != nil {
		t.Fatalf("NewServerEvent error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if _, present := m["violations"]; present {
		t.Errorf("violations should be omitted when empty, got %v", m["violations"])
	}
}

// TestEnvelope_RoundTrip verifies the envelope preserves raw bytes for
// deferred decoding.
func TestEnvelope_RoundTrip(t *testing.T) {
	input := []byte(`{"type":"send-message","conversationId":"c-9","content":"hi"}`)

	var env Envelope
	if err := json.Unmarshal(input, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != TypeSendMessage {
		t.Errorf("Type = %q, want %q", env.Type, TypeSendMessage)
	}

	var e SendMessageEvt
	if err := json.Unmarshal(env.Raw, &e); err != nil {
		t.Fatalf("unmarshal raw payload: %v", err)
	}
	if e.Content != "hi" {
		t.Errorf("Content = %q, want %q", e.Content, "hi")
	}
}
