// Package payload parses and validates inbound chat request bodies.
// Parsing is stateless and happens before any per-identity work, so a
// bad payload never touches the store or the usage window.
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pacerhq/pacer/internal/coach"
)

const (
	// MaxBodyBytes is the raw request body ceiling. Bodies over the
	// ceiling are rejected before JSON decoding.
	MaxBodyBytes = 64 * 1024

	// MaxMessages caps the conversation window a client may send.
	MaxMessages = 40

	// MaxContentRunes is the per-message content ceiling, counted in
	// runes. Longer content is truncated, not rejected.
	MaxContentRunes = 4000
)

var (
	ErrTooLarge  = errors.New("request body too large")
	ErrMalformed = errors.New("malformed request body")
)

var identityRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Issue points at one invalid field.
type Issue struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// ValidationError carries every field issue found in a payload.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return "invalid payload: " + e.Issues[0].Message
	}
	return fmt.Sprintf("invalid payload: %d issues", len(e.Issues))
}

// Message is one validated conversation turn. Content is flattened to
// plain text and truncated to MaxContentRunes.
type Message struct {
	Role    string
	Content string
}

// ChatRequest is a parsed and validated chat payload. Identity is in
// normalized form.
type ChatRequest struct {
	Identity string
	Messages []Message
}

type wireRequest struct {
	Identity *string       `json:"identity"`
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    *string         `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wirePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Parse reads a request body and returns the validated request.
// Errors are ErrTooLarge, ErrMalformed, or a *ValidationError.
func Parse(r io.Reader) (*ChatRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxBodyBytes {
		return nil, ErrTooLarge
	}

	var raw wireRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var issues []Issue

	identity := ""
	if raw.Identity == nil {
		issues = append(issues, Issue{Path: []string{"identity"}, Message: "identity is required"})
	} else {
		identity = coach.NormalizeIdentity(*raw.Identity)
		if !identityRe.MatchString(identity) {
			issues = append(issues, Issue{Path: []string{"identity"}, Message: "identity must be an email address"})
		}
	}

	switch {
	case len(raw.Messages) == 0:
		issues = append(issues, Issue{Path: []string{"messages"}, Message: "at least one message is required"})
	case len(raw.Messages) > MaxMessages:
		issues = append(issues, Issue{
			Path:    []string{"messages"},
			Message: fmt.Sprintf("at most %d messages allowed", MaxMessages),
		})
	}

	msgs := make([]Message, 0, len(raw.Messages))
	for i, m := range raw.Messages {
		idx := strconv.Itoa(i)
		role := ""
		if m.Role == nil || *m.Role == "" {
			issues = append(issues, Issue{Path: []string{"messages", idx, "role"}, Message: "role is required"})
		} else {
			role = *m.Role
		}
		content, contentIssue := flattenContent(m.Content)
		if contentIssue != "" {
			issues = append(issues, Issue{Path: []string{"messages", idx, "content"}, Message: contentIssue})
		}
		msgs = append(msgs, Message{Role: role, Content: Truncate(content)})
	}

	if len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}
	return &ChatRequest{Identity: identity, Messages: msgs}, nil
}

// flattenContent accepts the two wire shapes for message content: a
// plain string, or an array of typed parts whose text parts are joined
// with newlines. An empty string is structurally valid; a missing or
// differently typed value is not.
func flattenContent(raw json.RawMessage) (string, string) {
	if len(raw) == 0 {
		return "", "content is required"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, ""
	}
	var parts []wirePart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", "content must be a string or an array of parts"
	}
	if len(parts) == 0 {
		return "", "content parts must not be empty"
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n"), ""
}

// ValidIdentity reports whether a normalized identity has the
// required email shape.
func ValidIdentity(s string) bool {
	return identityRe.MatchString(s)
}

// Truncate clips content to MaxContentRunes runes.
func Truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxContentRunes {
		return s
	}
	return string([]rune(s)[:MaxContentRunes])
}
