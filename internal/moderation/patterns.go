package moderation

import (
	"context"
	"regexp"
	"strings"
)

// Compiled regex patterns for the fallback classifier.
// These are compiled once at package init and reused for every call,
// making them safe and efficient for concurrent use.
var (
	// urlPattern matches http/https URLs, www. URLs, and common TLD patterns.
	// The bare-domain variant requires a trailing "/" to avoid false positives
	// on version strings like "v2.0" or decimal numbers like "3.14".
	urlPattern = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

	// emailPattern matches standard email addresses.
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// phonePattern matches digit sequences in common phone formats
	// (international prefixes, parenthesized area codes, dot/dash/space
	// separators). Candidates are filtered to 8+ digits to avoid flagging
	// years, prices and short codes.
	phonePattern = regexp.MustCompile(`(\+?\d{1,3}[-.\s]?)?\(?\d{1,4}\)?[-.\s]?\d{1,4}[-.\s]?\d{1,4}[-.\s]?\d{1,9}`)

	// handlePattern matches bare social-media handles. The leading
	// whitespace/start anchor keeps it from matching the @ inside email
	// addresses.
	handlePattern = regexp.MustCompile(`(?:^|\s)(@[A-Za-z0-9_.]{2,})`)

	// platformPattern matches social platform names, optionally followed by
	// a handle ("insta: @some_user", "add me on snapchat john_doe").
	platformPattern = regexp.MustCompile(`(?i)\b(instagram|insta|snapchat|snap|telegram|whatsapp|signal|tiktok|facebook|twitter|discord)\b([:\s]+@?[A-Za-z0-9_.]{2,})?`)

	// addressKeywordPattern marks text segments that name a street.
	addressKeywordPattern = regexp.MustCompile(`(?i)\b(rue|avenue|ave|boulevard|blvd|street|st|road|rd|drive|dr|lane|allee|chemin|square|plaza|court)\b`)

	// numberAddressPattern matches "number + name" address shapes such as
	// "123 main street" or "45 rue de la paix".
	numberAddressPattern = regexp.MustCompile(`\b\d{1,5}\s+[A-Za-z][A-Za-z'\-]+(?:\s+[A-Za-z'\-]+){0,3}`)

	// addressExcludePattern drops number+word candidates that are really
	// quantities, durations or prices.
	addressExcludePattern = regexp.MustCompile(`(?i)^\d{1,5}\s+(euros?|dollars?|bucks?|years?|ans|days?|hours?|minutes?|seconds?|weeks?|months?|times?|people|kg|km|miles?|percent)\b`)

	// splitDigitsPattern matches phone numbers leaked digit by digit
	// ("0 6 1 2 3 4 5 6"), which the phone pattern's 8-digit floor misses.
	splitDigitsPattern = regexp.MustCompile(`\b(?:\d[\s.,\-]+){5,}\d\b`)

	segmentSplitter = regexp.MustCompile(`[.!?,\n]`)
)

// digitWords are the spoken forms of digits used to spell numbers out in
// words ("zero six one two ...").
var digitWords = map[string]bool{
	"zero": true, "oh": true, "one": true, "two": true, "three": true,
	"four": true, "five": true, "six": true, "seven": true, "eight": true,
	"nine": true,
}

// minSpelledDigits is the minimum run of consecutive digit words treated as
// an obfuscated number. Four avoids flagging ordinary counting ("one or two").
const minSpelledDigits = 4

// contactPhrases are requests to move the exchange off the platform.
var contactPhrases = []string{
	"call me", "text me", "dm me", "message me", "contact me", "reach me",
	"hit me up", "hmu", "add me", "find me on", "off the app", "off this app",
	"outside the app", "outside this app",
}

// meetupPhrases are proposals to meet in person.
var meetupPhrases = []string{
	"meet up", "meet me", "let's meet", "meet in person", "in person",
	"come over", "my place", "your place", "grab a coffee", "grab a drink",
	"see you there",
}

// continuationPhrases reference a number being delivered in pieces.
var continuationPhrases = []string{
	"rest of the number", "rest of my number", "rest of it", "remaining digits",
	"last digits", "first digits", "the rest later", "give you the rest",
	"send you the rest",
}

// PatternClassifier is the always-available fallback strategy. It is pure and
// deterministic: same input, same output, no network access, and it always
// terminates. Used whenever the primary strategy is unconfigured, times out,
// or returns unparseable output.
type PatternClassifier struct {
	profanity *profanityMatcher
}

// NewPatternClassifier creates a PatternClassifier with the built-in
// profanity list.
func NewPatternClassifier() *PatternClassifier {
	return NewPatternClassifierWithProfanity(defaultProfanity)
}

// NewPatternClassifierWithProfanity creates a PatternClassifier with a custom
// profanity word list. An empty list disables the profanity category.
func NewPatternClassifierWithProfanity(words []string) *PatternClassifier {
	return &PatternClassifier{profanity: newProfanityMatcher(words)}
}

// Classify runs every category detector against text. The context is unused;
// it exists to satisfy the Classifier contract shared with the model-based
// strategy.
func (c *PatternClassifier) Classify(_ context.Context, text string) (ExtractedInfo, error) {
	info := ExtractedInfo{}

	info.add(CategoryPhoneNumbers, c.findPhones(text))
	info.add(CategoryAddresses, c.findAddresses(text))
	info.add(CategoryEmails, emailPattern.FindAllString(text, -1))
	info.add(CategoryURLs, firstGroups(urlPattern.FindAllStringSubmatch(text, -1)))
	info.add(CategorySocialMedia, c.findSocial(text))
	info.add(CategoryContactRequests, findPhrases(text, contactPhrases))
	info.add(CategoryMeetupRequests, findPhrases(text, meetupPhrases))
	if c.profanity != nil {
		info.add(CategoryProfanity, c.profanity.Find(text))
	}
	info.add(CategoryObfuscatedContacts, c.findObfuscated(text))

	return info, nil
}

// findPhones returns phone-shaped digit sequences containing 8 or more
// digits.
func (c *PatternClassifier) findPhones(text string) []string {
	var phones []string
	for _, m := range phonePattern.FindAllString(text, -1) {
		if countDigits(m) >= 8 {
			phones = append(phones, strings.TrimSpace(m))
		}
	}
	return phones
}

// findAddresses combines two detections: segments naming a street keyword,
// and "number + name" shapes filtered against quantity/duration phrases.
func (c *PatternClassifier) findAddresses(text string) []string {
	var addrs []string
	seen := map[string]bool{}

	for _, seg := range segmentSplitter.Split(text, -1) {
		seg = strings.TrimSpace(seg)
		if seg != "" && addressKeywordPattern.MatchString(seg) && !seen[seg] {
			seen[seg] = true
			addrs = append(addrs, seg)
		}
	}

	for _, m := range numberAddressPattern.FindAllString(text, -1) {
		m = strings.TrimSpace(m)
		if addressExcludePattern.MatchString(m) || seen[m] {
			continue
		}
		// Skip candidates already covered by a keyword segment.
		covered := false
		for _, a := range addrs {
			if strings.Contains(a, m) {
				covered = true
				break
			}
		}
		if !covered {
			seen[m] = true
			addrs = append(addrs, m)
		}
	}
	return addrs
}

// findSocial returns bare @handles and platform-name mentions.
func (c *PatternClassifier) findSocial(text string) []string {
	var social []string
	for _, m := range handlePattern.FindAllStringSubmatch(text, -1) {
		social = append(social, m[1])
	}
	for _, m := range platformPattern.FindAllString(text, -1) {
		social = append(social, strings.TrimSpace(m))
	}
	return social
}

// findObfuscated detects contact attempts the direct patterns miss: numbers
// spelled out in words, digit-by-digit splits, and references to a number
// being delivered in pieces.
func (c *PatternClassifier) findObfuscated(text string) []string {
	var out []string

	out = append(out, findSpelledNumbers(text)...)
	for _, m := range splitDigitsPattern.FindAllString(text, -1) {
		out = append(out, strings.TrimSpace(m))
	}
	out = append(out, findPhrases(text, continuationPhrases)...)

	return out
}

// findSpelledNumbers scans for runs of minSpelledDigits or more consecutive
// digit words and returns the matched spans from the original text.
func findSpelledNumbers(text string) []string {
	words := strings.Fields(text)
	var out []string

	start := -1
	for i := 0; i <= len(words); i++ {
		isDigitWord := false
		if i < len(words) {
			w := strings.ToLower(strings.Trim(words[i], ".,!?;:"))
			isDigitWord = digitWords[w]
		}
		if isDigitWord {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minSpelledDigits {
			out = append(out, strings.Join(words[start:i], " "))
		}
		start = -1
	}
	return out
}

// findPhrases returns every phrase from the list found in text,
// case-insensitively, preserving the phrase form for masking.
func findPhrases(text string, phrases []string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			out = append(out, p)
		}
	}
	return out
}

// countDigits returns the number of ASCII digits in s.
func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// firstGroups extracts the full match (group 0) from regex submatches.
func firstGroups(matches [][]string) []string {
	var out []string
	for _, m := range matches {
		out = append(out, m[0])
	}
	return out
}
