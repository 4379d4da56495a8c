package moderation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// stubClassifier is a scriptable Classifier for engine tests.
type stubClassifier struct {
	info  ExtractedInfo
	err   error
	delay time.Duration
	calls int
}

func (s *stubClassifier) Classify(ctx context.Context, _ string) (ExtractedInfo, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.info, nil
}

func TestModerate_PurchaseGate(t *testing.T) {
	e := NewEngine(nil, nil)
	ctx := context.Background()

	tests := []struct {
		name             string
		text             string
		hasPriorPurchase bool
		allowed          bool
	}{
		{"phone without purchase", "call me at 12345678", false, false},
		{"phone with purchase", "call me at 12345678", true, true},
		{"email without purchase", "ping john@example.com", false, false},
		{"email with purchase", "ping john@example.com", true, true},
		{"profanity without purchase", "you are an asshole", false, false},
		{"profanity with purchase", "you are an asshole", true, false},
		{"clean without purchase", "Hello there", false, true},
		{"clean with purchase", "Hello there", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Moderate(ctx, tt.text, tt.hasPriorPurchase)
			if result.IsAllowed != tt.allowed {
				t.Errorf("Moderate(%q, purchase=%v).IsAllowed = %v, want %v (violations=%v)",
					tt.text, tt.hasPriorPurchase, result.IsAllowed, tt.allowed, result.Violations)
			}
		})
	}
}

// TestModerate_ViolationsAdditive verifies multiple simultaneous violations
// are all reported, not short-circuited.
func TestModerate_ViolationsAdditive(t *testing.T) {
	e := NewEngine(nil, nil)

	result := e.Moderate(context.Background(),
		"text me at 12345678 or john@example.com", false)
	if result.IsAllowed {
		t.Fatal("expected message to be blocked")
	}
	if len(result.Violations) < 3 {
		t.Errorf("expected at least 3 violations (phone, email, contact request), got %v",
			result.Violations)
	}
}

// TestModerate_PhoneViolationMessage verifies an 8+ digit run produces a
// phone-number-derived violation.
func TestModerate_PhoneViolationMessage(t *testing.T) {
	e := NewEngine(nil, nil)

	result := e.Moderate(context.Background(), "call me at 12345678", false)
	if result.IsAllowed {
		t.Fatal("expected message to be blocked")
	}

	found := false
	for _, v := range result.Violations {
		if strings.Contains(v, "phone") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a phone-number violation, got %v", result.Violations)
	}
}

// TestModerate_AllowedHasNoMask verifies masked content is produced only for
// blocked messages.
func TestModerate_AllowedHasNoMask(t *testing.T) {
	e := NewEngine(nil, nil)

	result := e.Moderate(context.Background(), "Hello there", false)
	if !result.IsAllowed {
		t.Fatalf("expected clean message to be allowed, violations=%v", result.Violations)
	}
	if result.MaskedContent != "" {
		t.Errorf("MaskedContent = %q, want empty for allowed message", result.MaskedContent)
	}
}

func TestModerate_MaskedContent(t *testing.T) {
	e := NewEngine(nil, nil)

	result := e.Moderate(context.Background(), "call me at 12345678", false)
	if result.IsAllowed {
		t.Fatal("expected message to be blocked")
	}
	if strings.Contains(result.MaskedContent, "12345678") {
		t.Errorf("masked content still contains the phone number: %q", result.MaskedContent)
	}
	if !strings.Contains(result.MaskedContent, "*") {
		t.Errorf("masked content has no mask characters: %q", result.MaskedContent)
	}
}

// TestMask_Idempotent verifies masking already-masked output with the same
// fragments yields the same string.
func TestMask_Idempotent(t *testing.T) {
	info := ExtractedInfo{
		CategoryPhoneNumbers:    {"12345678"},
		CategoryContactRequests: {"call me"},
	}
	text := "Call me at 12345678 please"

	once := Mask(text, info)
	twice := Mask(once, info)
	if once != twice {
		t.Errorf("masking is not idempotent:\nonce  = %q\ntwice = %q", once, twice)
	}
	if strings.Contains(once, "12345678") || strings.Contains(strings.ToLower(once), "call me") {
		t.Errorf("fragments survived masking: %q", once)
	}
}

// TestMask_CapsSubstitutionLength verifies long fragments are replaced by at
// most the per-category cap of mask characters.
func TestMask_CapsSubstitutionLength(t *testing.T) {
	long := strings.Repeat("1", 40)
	info := ExtractedInfo{CategoryPhoneNumbers: {long}}

	masked := Mask("num: "+long, info)
	want := "num: " + strings.Repeat("*", 20)
	if masked != want {
		t.Errorf("Mask = %q, want %q", masked, want)
	}
}

func TestMask_CaseInsensitive(t *testing.T) {
	info := ExtractedInfo{CategoryEmails: {"john@example.com"}}

	masked := Mask("mail JOHN@EXAMPLE.COM now", info)
	if strings.Contains(strings.ToLower(masked), "john@example.com") {
		t.Errorf("case-variant fragment survived masking: %q", masked)
	}
}

// TestMask_CaseFoldChangesByteLength covers folds that shrink the UTF-8
// encoding: U+212A (kelvin sign, 3 bytes) lowercases to ASCII 'k' (1 byte),
// so offsets in the lowercased text diverge from the original.
func TestMask_CaseFoldChangesByteLength(t *testing.T) {
	info := ExtractedInfo{CategoryEmails: {"kelvin@mail.com"}}

	masked := Mask("reach me at Kelvin@mail.com now", info)
	want := "reach me at " + strings.Repeat("*", 15) + " now"
	if masked != want {
		t.Errorf("Mask = %q, want %q", masked, want)
	}

	// U+0130 (I with dot, 2 bytes) lowercases to a 1-byte 'i'.
	masked = Mask("mail İsak@mail.com ok", ExtractedInfo{CategoryEmails: {"İsak@mail.com"}})
	if strings.Contains(masked, "mail.com") {
		t.Errorf("fragment survived masking: %q", masked)
	}
	if !strings.HasPrefix(masked, "mail ") || !strings.HasSuffix(masked, " ok") {
		t.Errorf("surrounding text corrupted: %q", masked)
	}
}

// TestClassify_FallsBackOnPrimaryError verifies a failing primary strategy
// silently degrades to the pattern fallback.
func TestClassify_FallsBackOnPrimaryError(t *testing.T) {
	primary := &stubClassifier{err: errors.New("model exploded")}
	e := NewEngine(primary, nil)

	info := e.Classify(context.Background(), "call me at 12345678")
	if primary.calls != 1 {
		t.Errorf("primary.calls = %d, want 1", primary.calls)
	}
	if len(info[CategoryPhoneNumbers]) == 0 {
		t.Errorf("fallback did not run: info = %v", info)
	}
}

// TestClassify_FallsBackOnTimeout verifies a slow primary strategy is
// abandoned after the bounded timeout.
func TestClassify_FallsBackOnTimeout(t *testing.T) {
	primary := &stubClassifier{delay: time.Second}
	e := NewEngine(primary, nil)
	e.SetTimeout(20 * time.Millisecond)

	start := time.Now()
	info := e.Classify(context.Background(), "call me at 12345678")
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Classify took %v, expected to abandon the primary after ~20ms", elapsed)
	}
	if len(info[CategoryPhoneNumbers]) == 0 {
		t.Errorf("fallback did not run: info = %v", info)
	}
}

// TestClassify_UsesPrimaryResult verifies the primary's verdict is used
// as-is when it succeeds.
func TestClassify_UsesPrimaryResult(t *testing.T) {
	primary := &stubClassifier{info: ExtractedInfo{CategoryURLs: {"evil.com/x"}}}
	e := NewEngine(primary, nil)

	info := e.Classify(context.Background(), "whatever")
	if len(info[CategoryURLs]) != 1 || info[CategoryURLs][0] != "evil.com/x" {
		t.Errorf("info = %v, want primary verdict", info)
	}
}

func TestProfanityMatcher_LeetAndSpacing(t *testing.T) {
	m := newProfanityMatcher(defaultProfanity)

	tests := []struct {
		name  string
		input string
		found bool
	}{
		{"plain", "what the fuck", true},
		{"leet digits", "sh1t happens", true},
		{"symbol substitution", "b!tch please", true},
		{"spaced out", "k y s now", true},
		{"clean", "have a nice day", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Find(tt.input)
			if (len(got) > 0) != tt.found {
				t.Errorf("Find(%q) = %v, found = %v, want %v", tt.input, got, len(got) > 0, tt.found)
			}
		})
	}
}
