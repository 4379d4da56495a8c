package chat

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates the conversation does not exist.
	ErrNotFound = errors.New("chat: conversation not found")
	// ErrForbidden indicates the user is not a participant of the
	// conversation they tried to act on.
	ErrForbidden = errors.New("chat: user is not a participant")
)

// InvalidContentError reports content that failed structural validation
// before reaching moderation.
type InvalidContentError struct {
	Reason string
}

func (e *InvalidContentError) Error() string {
	return "chat: invalid content: " + e.Reason
}

// ContentBlockedError reports a message rejected by the moderation engine.
// Violations are human-readable reasons; Masked is the content with the
// offending fragments replaced, suitable for echoing back to the sender.
type ContentBlockedError struct {
	Violations []string
	Masked     string
}

func (e *ContentBlockedError) Error() string {
	return fmt.Sprintf("chat: content blocked: %s", strings.Join(e.Violations, "; "))
}
