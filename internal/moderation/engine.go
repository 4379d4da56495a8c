package moderation

import (
	"context"
	"log"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dressly/chat-service/internal/metrics"
)

const (
	// DefaultClassifyTimeout bounds the primary strategy's network call.
	// The pipeline must never hang on a slow external classifier.
	DefaultClassifyTimeout = 4 * time.Second

	// maskCap limits how many mask characters replace a single fragment,
	// to avoid over-replacing on short or ambiguous matches.
	maskCap = 20

	// addressMaskCap is wider because addresses are typically longer spans.
	addressMaskCap = 30
)

// violationMessages are the human-readable reasons attached to a rejection,
// one per offending category.
var violationMessages = map[Category]string{
	CategoryPhoneNumbers:       "phone numbers are not allowed",
	CategoryAddresses:          "postal addresses are not allowed",
	CategoryEmails:             "email addresses are not allowed",
	CategoryURLs:               "links are not allowed",
	CategorySocialMedia:        "social media handles are not allowed",
	CategoryContactRequests:    "requests for off-platform contact are not allowed",
	CategoryObfuscatedContacts: "obfuscated contact details are not allowed",
	CategoryProfanity:          "abusive or harassing language is not allowed",
}

// purchaseGated are the categories that only violate before the participants
// share a purchase. Profanity is excluded: it always violates.
var purchaseGated = map[Category]bool{
	CategoryPhoneNumbers:       true,
	CategoryContactRequests:    true,
	CategoryObfuscatedContacts: true,
	CategoryAddresses:          true,
	CategoryEmails:             true,
	CategoryURLs:               true,
	CategorySocialMedia:        true,
}

// Engine coordinates the two classification strategies and applies the
// moderation business rule. The primary strategy runs under a bounded
// timeout; any of its failures (unconfigured, timeout, network error,
// unparseable output) silently degrade to the fallback. This is a deliberate
// availability-over-precision tradeoff: moderation never blocks message flow
// because a classifier is down.
type Engine struct {
	primary  Classifier // nil when no model is configured
	fallback Classifier
	timeout  time.Duration
}

// NewEngine creates an Engine. primary may be nil, in which case every
// classification uses the fallback strategy directly.
func NewEngine(primary Classifier, fallback Classifier) *Engine {
	if fallback == nil {
		fallback = NewPatternClassifier()
	}
	return &Engine{
		primary:  primary,
		fallback: fallback,
		timeout:  DefaultClassifyTimeout,
	}
}

// SetTimeout overrides the primary strategy's classification timeout.
func (e *Engine) SetTimeout(d time.Duration) {
	if d > 0 {
		e.timeout = d
	}
}

// Classify returns the detected categories for text. It never fails: primary
// strategy errors are logged and absorbed by degrading to the fallback.
func (e *Engine) Classify(ctx context.Context, text string) ExtractedInfo {
	if e.primary != nil {
		cctx, cancel := context.WithTimeout(ctx, e.timeout)
		start := time.Now()
		info, err := e.primary.Classify(cctx, text)
		cancel()
		metrics.ClassifierLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			return info
		}
		log.Printf("moderation: primary classifier failed, using fallback: %v", err)
		metrics.ClassifierFallbacks.Inc()
	}

	info, err := e.fallback.Classify(ctx, text)
	if err != nil {
		// The pattern classifier cannot fail; guard anyway so moderation
		// never blocks the pipeline.
		log.Printf("moderation: fallback classifier error: %v", err)
		return ExtractedInfo{}
	}
	return info
}

// Moderate classifies text and applies the business rule: profanity always
// violates; the contact-leak categories violate only when the participants
// have no prior purchase. Violations are additive, one per offending
// category. When the message is blocked, a masked rendering of the content
// is included.
func (e *Engine) Moderate(ctx context.Context, text string, hasPriorPurchase bool) Result {
	info := e.Classify(ctx, text)

	var violations []string
	for _, cat := range Categories {
		if len(info[cat]) == 0 {
			continue
		}
		if cat == CategoryProfanity || (!hasPriorPurchase && purchaseGated[cat]) {
			violations = append(violations, violationMessages[cat])
			metrics.ModerationBlocks.WithLabelValues(string(cat)).Inc()
		}
	}

	result := Result{
		IsAllowed:     len(violations) == 0,
		Violations:    violations,
		ExtractedInfo: info,
	}
	if !result.IsAllowed {
		result.MaskedContent = Mask(text, info)
	}
	return result
}

// Mask replaces every matched fragment in text with a run of '*' characters,
// case-insensitively, capped per category. Longer fragments are replaced
// first so that a short fragment never splits a longer one it is contained
// in. Masking is idempotent: running it again over its own output with the
// same fragments yields the same string.
func Mask(text string, info ExtractedInfo) string {
	type fragment struct {
		text string
		cap  int
	}

	var frags []fragment
	for _, cat := range Categories {
		limit := maskCap
		if cat == CategoryAddresses {
			limit = addressMaskCap
		}
		for _, f := range info[cat] {
			if f = strings.TrimSpace(f); f != "" {
				frags = append(frags, fragment{text: f, cap: limit})
			}
		}
	}

	sort.SliceStable(frags, func(i, j int) bool {
		return len(frags[i].text) > len(frags[j].text)
	})

	masked := text
	for _, f := range frags {
		n := len([]rune(f.text))
		if n > f.cap {
			n = f.cap
		}
		masked = replaceFold(masked, f.text, strings.Repeat("*", n))
	}
	return masked
}

// replaceFold replaces every case-insensitive occurrence of old in s with new.
// Matching runs over a lowercased copy whose byte offsets are mapped back to
// the original: lowercasing can change a rune's UTF-8 length (U+212A kelvin
// sign folds to ASCII 'k'), so indexes into the copy are not indexes into s.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	oldLower := strings.ToLower(old)

	var lowered strings.Builder
	lowered.Grow(len(s))
	offsets := make([]int, 0, len(s)+1)
	for i, r := range s {
		var buf [utf8.UTFMax]byte
		n := utf8.EncodeRune(buf[:], unicode.ToLower(r))
		lowered.Write(buf[:n])
		for j := 0; j < n; j++ {
			offsets = append(offsets, i)
		}
	}
	offsets = append(offsets, len(s))
	hay := lowered.String()

	var b strings.Builder
	prev, from := 0, 0
	for {
		i := strings.Index(hay[from:], oldLower)
		if i < 0 {
			break
		}
		start := from + i
		b.WriteString(s[prev:offsets[start]])
		b.WriteString(new)
		prev = offsets[start+len(oldLower)]
		from = start + len(oldLower)
	}
	if prev == 0 {
		return s
	}
	b.WriteString(s[prev:])
	return b.String()
}
