// Package chat defines the canonical message form used between the gateway
// and the provider adapters, independent of any provider's content-block
// format.
package chat

import (
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Input limits enforced during normalization, measured in bytes of the
// extracted text.
const (
	MaxMessages        = 100
	MaxMessageChars    = 100_000
	MaxTotalInputChars = 400_000
)

// Message is the canonical {role, text} form. Immutable once normalized.
type Message struct {
	Role string
	Text string
}

// RawMessage mirrors the wire shape of one element of an OpenAI-style
// messages array. Content may be a plain string or an array of typed
// content blocks.
type RawMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Normalized is the result of one normalization pass.
type Normalized struct {
	Messages     []Message
	LastUserText string
}

// Normalize validates and flattens a raw messages array in a single pass.
// It rejects empty arrays, oversized arrays, unknown roles, and messages
// whose extracted text exceeds the per-message or total input limits.
// LastUserText tracks the text of the last user-role message so the
// classifier does not need a second pass.
func Normalize(raw []RawMessage) (Normalized, error) {
	if len(raw) == 0 {
		return Normalized{}, fmt.Errorf("messages must be a non-empty array")
	}
	if len(raw) > MaxMessages {
		return Normalized{}, fmt.Errorf("too many messages: %d exceeds limit of %d", len(raw), MaxMessages)
	}

	out := Normalized{Messages: make([]Message, 0, len(raw))}
	total := 0
	for i, m := range raw {
		role := strings.TrimSpace(m.Role)
		switch role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return Normalized{}, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}

		text := ExtractText(m.Content)
		if len(text) > MaxMessageChars {
			return Normalized{}, fmt.Errorf("message %d: content exceeds %d characters", i, MaxMessageChars)
		}
		total += len(text)
		if total > MaxTotalInputChars {
			return Normalized{}, fmt.Errorf("total input exceeds %d characters", MaxTotalInputChars)
		}

		out.Messages = append(out.Messages, Message{Role: role, Text: text})
		if role == RoleUser {
			out.LastUserText = text
		}
	}
	return out, nil
}

// ExtractText flattens a message content value. Strings pass through,
// block arrays keep only text-bearing blocks joined by newlines, and any
// other shape degrades to a safe string coercion.
func ExtractText(content any) string {
	switch c := content.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		parts := make([]string, 0, len(c))
		for _, item := range c {
			block, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return fmt.Sprintf("%v", c)
	}
}
