package models

import (
	"errors"
	"fmt"
	"strings"
)

// Role represents the role of a message participant. Only the values declared below are valid; anything
// else is rejected by ParseRole at the transport boundary.
type Role string

// Message represents one entry of the conversation as the client holds it. The ID is either a temporary
// id assigned at submit time or the id the assistant service assigned once it accepted the message.
type Message struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NewMessage is the payload for appending a message to a thread. An empty Role means RoleUser.
type NewMessage struct {
	Role    Role
	Content string
}

// RemoteMessage is a message as the assistant service lists it. Its content is a sequence of blocks, of
// which only text blocks are rendered.
type RemoteMessage struct {
	ID      string         `json:"id"`
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one block of a RemoteMessage content.
type ContentBlock struct {
	Type string `json:"type,omitempty"`

	// Text would be filled if Type is "text".
	Text *TextBlock `json:"text,omitempty"`
}

// TextBlock carries the text value of a content block.
type TextBlock struct {
	Value string `json:"value"`
}

const (
	// RoleUser represents a message written by the end user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the assistant service.
	RoleAssistant Role = "assistant"
	// RoleCode represents a code listing, rendered with line numbers.
	RoleCode Role = "code"

	// PendingReplyID is the reserved id under which the pending reply slot is rendered.
	PendingReplyID = "thinking"
	// PendingReplyText is the text shown while a reply is pending.
	PendingReplyText = "..."
)

// ErrUnknownRole is returned by ParseRole for any value outside the closed set of roles.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole validates s against the closed set of roles. Surrounding whitespace and letter case are
// ignored.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant, RoleCode:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

// FirstText returns the text value of the first content block, or an empty string if the message has no
// content or its first block carries no text.
func (m RemoteMessage) FirstText() string {
	if len(m.Content) == 0 || m.Content[0].Text == nil {
		return ""
	}
	return m.Content[0].Text.Value
}

// TextContent builds a single text block content, the shape the assistant service uses for plain text.
func TextContent(text string) []ContentBlock {
	return []ContentBlock{
		{
			Type: "text",
			Text: &TextBlock{Value: text},
		},
	}
}
