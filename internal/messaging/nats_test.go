package messaging

import (
	"encoding/json"
	"os"
	"testing"
	"time"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"new-message","message":{"id":"m1"}}`)
	raw, err := json.Marshal(envelope{Origin: "instance-a", Data: payload})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Origin != "instance-a" {
		t.Errorf("Origin = %q, want instance-a", env.Origin)
	}
	if string(env.Data) != string(payload) {
		t.Errorf("Data = %s, want %s", env.Data, payload)
	}
}

func TestUnwrap_FiltersOwnPublications(t *testing.T) {
	b := &Bridge{instanceID: "instance-a"}

	own, _ := json.Marshal(envelope{Origin: "instance-a", Data: []byte(`{}`)})
	if _, ok := b.unwrap(own); ok {
		t.Error("own publication was not filtered")
	}

	peer, _ := json.Marshal(envelope{Origin: "instance-b", Data: []byte(`{}`)})
	env, ok := b.unwrap(peer)
	if !ok {
		t.Fatal("peer publication was filtered")
	}
	if env.Origin != "instance-b" {
		t.Errorf("Origin = %q, want instance-b", env.Origin)
	}
}

func TestUnwrap_BadEnvelope(t *testing.T) {
	b := &Bridge{instanceID: "instance-a"}
	if _, ok := b.unwrap([]byte("not json")); ok {
		t.Error("malformed envelope was accepted")
	}
}

// noopFanout satisfies LocalFanout for tests that only exercise the
// maintenance subject.
type noopFanout struct{}

func (noopFanout) BroadcastToRoom(string, []byte) {}
func (noopFanout) SendToUser(string, []byte)      {}

func testBridge(t *testing.T, instanceID string) *Bridge {
	t.Helper()
	url := os.Getenv("CHAT_TEST_NATS_URL")
	if url == "" {
		url = "nats://localhost:4222"
	}
	config := DefaultNATSConfig()
	config.URL = url
	config.Name = "chat-test-" + instanceID
	config.MaxReconnects = 1
	b, err := NewBridge(config, instanceID)
	if err != nil {
		t.Skipf("NATS not available at %s: %v", url, err)
	}
	t.Cleanup(b.Close)
	return b
}

func TestPublishMaintenance_ReachesPeerInstance(t *testing.T) {
	origin := testBridge(t, "inst-1")
	peer := testBridge(t, "inst-2")

	received := make(chan []byte, 1)
	err := peer.Start(noopFanout{}, func(id string) string { return id }, func(data []byte) {
		received <- data
	})
	if err != nil {
		t.Fatalf("peer start: %v", err)
	}
	if err := peer.conn.Flush(); err != nil {
		t.Fatalf("peer flush: %v", err)
	}

	notice := []byte(`{"type":"maintenance","code":"MAINTENANCE"}`)
	if err := origin.PublishMaintenance(notice); err != nil {
		t.Fatalf("publish maintenance: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != string(notice) {
			t.Errorf("relayed notice = %s, want %s", data, notice)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("peer instance never received the maintenance notice")
	}

	// The origin instance must not act on its own publication.
	ownReceived := make(chan []byte, 1)
	err = origin.Start(noopFanout{}, func(id string) string { return id }, func(data []byte) {
		ownReceived <- data
	})
	if err != nil {
		t.Fatalf("origin start: %v", err)
	}
	if err := origin.conn.Flush(); err != nil {
		t.Fatalf("origin flush: %v", err)
	}
	if err := origin.PublishMaintenance(notice); err != nil {
		t.Fatalf("publish maintenance: %v", err)
	}
	select {
	case <-ownReceived:
		t.Error("origin instance acted on its own maintenance publication")
	case <-time.After(500 * time.Millisecond):
	}
}
