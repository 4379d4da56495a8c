// Package moderation screens message content before it is accepted. It
// classifies raw text into categories of disallowed content and turns the
// classification into an allow/deny decision with a masked rendering of the
// offending fragments.
//
// Two interchangeable strategies satisfy the Classifier contract: a
// model-based primary that delegates to an external text-understanding API,
// and a deterministic pattern-based fallback that never touches the network.
// The Engine coordinator prefers the primary under a bounded timeout and
// silently degrades to the fallback on any of its well-defined failure modes.
package moderation

import "context"

// Category identifies one kind of disallowed content.
type Category string

// The fixed category enumeration. Classifiers must not invent categories
// outside this set.
const (
	CategoryPhoneNumbers       Category = "phoneNumbers"
	CategoryAddresses          Category = "addresses"
	CategoryEmails             Category = "emails"
	CategoryURLs               Category = "urls"
	CategorySocialMedia        Category = "socialMedia"
	CategoryContactRequests    Category = "contactRequests"
	CategoryMeetupRequests     Category = "meetupRequests"
	CategoryProfanity          Category = "profanity"
	CategoryObfuscatedContacts Category = "obfuscatedContacts"
)

// Categories lists every recognized category in the deterministic order used
// for violation reporting and masking.
var Categories = []Category{
	CategoryPhoneNumbers,
	CategoryAddresses,
	CategoryEmails,
	CategoryURLs,
	CategorySocialMedia,
	CategoryContactRequests,
	CategoryMeetupRequests,
	CategoryProfanity,
	CategoryObfuscatedContacts,
}

// ExtractedInfo maps a category to the text fragments that triggered it.
// Categories are present only when at least one fragment matched.
type ExtractedInfo map[Category][]string

// add records matches under cat, skipping empty match sets so the invariant
// "present only when non-empty" holds by construction.
func (e ExtractedInfo) add(cat Category, matches []string) {
	if len(matches) > 0 {
		e[cat] = append(e[cat], matches...)
	}
}

// Classifier is the pluggable text-classification capability. Implementations
// return the detected categories with their matched fragments. A non-nil
// error signals the caller should fall back to another strategy; it must
// never be surfaced to end users.
type Classifier interface {
	Classify(ctx context.Context, text string) (ExtractedInfo, error)
}

// Result is the outcome of moderating one message. It is transient: rejected
// content is never persisted, and the masked rendering exists only for
// logging or client display.
type Result struct {
	IsAllowed     bool
	Violations    []string
	ExtractedInfo ExtractedInfo
	MaskedContent string // set only when IsAllowed is false
}
