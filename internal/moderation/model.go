package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned by Classify when the model strategy has no
// API key. The engine treats it like any other primary failure and falls
// back to pattern matching.
var ErrNotConfigured = errors.New("moderation: model classifier not configured")

// classifyPrompt instructs the model to answer with the fixed category set as
// strict JSON and nothing else. Any deviation is treated as a parse failure.
const classifyPrompt = `Analyze this chat message and extract the following information as strict JSON:
{
  "phoneNumbers": ["phone numbers found, any format"],
  "addresses": ["postal addresses found, complete or partial"],
  "emails": ["email addresses found"],
  "urls": ["URLs found"],
  "socialMedia": ["social media handles or platform mentions"],
  "contactRequests": ["requests to move contact off the platform"],
  "meetupRequests": ["proposals to meet in person"],
  "profanity": ["profane or harassing fragments"],
  "obfuscatedContacts": ["numbers spelled out in words, digit-by-digit splits, or references to the rest of a number"]
}

Rules:
- Use an empty array [] for anything not found
- Detect obfuscated attempts too (numbers written as words, split digits)
- Respond ONLY with the JSON, no extra text, no markdown, no code blocks

Message: %q`

// ModelConfig holds settings for the model-based classifier.
type ModelConfig struct {
	BaseURL string        // API base, e.g. https://generativelanguage.googleapis.com
	APIKey  string        // empty means not configured
	Model   string        // model name, e.g. gemini-pro
	Timeout time.Duration // per-request HTTP timeout
}

// DefaultModelConfig returns production defaults; the API key must still be
// supplied.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		BaseURL: "https://generativelanguage.googleapis.com",
		Model:   "gemini-pro",
		Timeout: 4 * time.Second,
	}
}

// ModelClassifier is the primary strategy: it delegates classification to an
// external text-understanding API. Every failure mode (missing key, network
// error, non-2xx status, unparseable output) surfaces as an error so the
// engine can degrade to the fallback strategy.
type ModelClassifier struct {
	config ModelConfig
	client *http.Client
}

// NewModelClassifier creates a ModelClassifier with the given config.
func NewModelClassifier(config ModelConfig) *ModelClassifier {
	if config.Timeout <= 0 {
		config.Timeout = 4 * time.Second
	}
	return &ModelClassifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// The request/response structs mirror the generateContent wire format.
type contentPart struct {
	Text string `json:"text"`
}

type modelContent struct {
	Parts []contentPart `json:"parts"`
}

type generateRequest struct {
	Contents []modelContent `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content modelContent `json:"content"`
	} `json:"candidates"`
}

// Classify sends the message to the model and parses its JSON verdict into
// ExtractedInfo. Unknown categories in the response are dropped; empty
// categories are filtered out.
func (m *ModelClassifier) Classify(ctx context.Context, text string) (ExtractedInfo, error) {
	if m.config.APIKey == "" {
		return nil, ErrNotConfigured
	}

	req := generateRequest{
		Contents: []modelContent{{
			Parts: []contentPart{{Text: fmt.Sprintf(classifyPrompt, text)}},
		}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("moderation: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		m.config.BaseURL, m.config.Model, m.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("moderation: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("moderation: model call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moderation: model returned status %d", resp.StatusCode)
	}

	var gr generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("moderation: decode response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("moderation: model returned no candidates")
	}

	return parseModelVerdict(gr.Candidates[0].Content.Parts[0].Text)
}

// parseModelVerdict decodes the model's JSON answer, tolerating markdown code
// fences around it, and keeps only recognized, non-empty categories.
func parseModelVerdict(text string) (ExtractedInfo, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw map[string][]string
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("moderation: unparseable model verdict: %w", err)
	}

	info := ExtractedInfo{}
	for _, cat := range Categories {
		info.add(cat, raw[string(cat)])
	}
	return info, nil
}
