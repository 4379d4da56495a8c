package moderation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newModelServer returns a test server that responds to generateContent with
// the given candidate text.
func newModelServer(t *testing.T, status int, candidateText string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.WriteHeader(status)
		if status == http.StatusOK {
			fmt.Fprintf(w, `{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, candidateText)
		}
	}))
}

func newTestModelClassifier(serverURL string) *ModelClassifier {
	config := DefaultModelConfig()
	config.BaseURL = serverURL
	config.APIKey = "test-key"
	return NewModelClassifier(config)
}

func TestModelClassifier_ParsesVerdict(t *testing.T) {
	verdict := `{"phoneNumbers":["0612345678"],"emails":[],"urls":["http://x.io/a"]}`
	srv := newModelServer(t, http.StatusOK, verdict)
	defer srv.Close()

	info, err := newTestModelClassifier(srv.URL).Classify(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if len(info[CategoryPhoneNumbers]) != 1 || info[CategoryPhoneNumbers][0] != "0612345678" {
		t.Errorf("phoneNumbers = %v", info[CategoryPhoneNumbers])
	}
	if _, present := info[CategoryEmails]; present {
		t.Errorf("empty emails category should be absent, got %v", info)
	}
	if len(info[CategoryURLs]) != 1 {
		t.Errorf("urls = %v", info[CategoryURLs])
	}
}

// TestModelClassifier_TolerantOfCodeFences verifies markdown fences around
// the JSON answer are stripped before parsing.
func TestModelClassifier_TolerantOfCodeFences(t *testing.T) {
	verdict := "```json\n{\"emails\":[\"a@b.co\"]}\n```"
	srv := newModelServer(t, http.StatusOK, verdict)
	defer srv.Close()

	info, err := newTestModelClassifier(srv.URL).Classify(context.Background(), "whatever")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if len(info[CategoryEmails]) != 1 {
		t.Errorf("emails = %v", info[CategoryEmails])
	}
}

func TestModelClassifier_UnparseableVerdict(t *testing.T) {
	srv := newModelServer(t, http.StatusOK, "I think this message is fine!")
	defer srv.Close()

	if _, err := newTestModelClassifier(srv.URL).Classify(context.Background(), "x"); err == nil {
		t.Error("expected error for non-JSON verdict")
	}
}

func TestModelClassifier_ServerError(t *testing.T) {
	srv := newModelServer(t, http.StatusInternalServerError, "")
	defer srv.Close()

	if _, err := newTestModelClassifier(srv.URL).Classify(context.Background(), "x"); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestModelClassifier_NotConfigured(t *testing.T) {
	c := NewModelClassifier(ModelConfig{BaseURL: "http://localhost:1", Model: "m"})

	_, err := c.Classify(context.Background(), "x")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

// TestModelClassifier_DropsUnknownCategories verifies categories outside the
// fixed set are ignored.
func TestModelClassifier_DropsUnknownCategories(t *testing.T) {
	verdict := `{"phoneNumbers":["123"],"madeUpCategory":["x"]}`
	srv := newModelServer(t, http.StatusOK, verdict)
	defer srv.Close()

	info, err := newTestModelClassifier(srv.URL).Classify(context.Background(), "x")
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if len(info) != 1 {
		t.Errorf("expected only phoneNumbers, got %v", info)
	}
}
