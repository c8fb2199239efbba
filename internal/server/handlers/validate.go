package handlers

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Request limits.
const (
	MaxMessages     = 100
	MaxContentChars = 50000
	MaxModelChars   = 100
)

var validRoles = map[string]bool{"user": true, "assistant": true, "system": true}

// ChatMessage is the wire form of one message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatBody is the body of POST /api/chat and POST /api/chat/stream.
type ChatBody struct {
	Provider     string        `json:"provider,omitempty"`
	Model        string        `json:"model,omitempty"`
	Messages     []ChatMessage `json:"messages"`
	APIKey       string        `json:"apiKey,omitempty"`
	ImageDataURL string        `json:"imageDataUrl,omitempty"`
	MaxTokens    *int          `json:"maxTokens,omitempty"`
}

// ValidateMessages checks the message list of a chat body.
func ValidateMessages(messages []ChatMessage) error {
	switch {
	case messages == nil:
		return errors.New("Messages array is required")
	case len(messages) == 0:
		return errors.New("At least one message is required")
	case len(messages) > MaxMessages:
		return errors.New("Too many messages (max 100)")
	}
	for _, msg := range messages {
		if msg.Role == "" || msg.Content == "" {
			return errors.New("Each message must have role and content")
		}
		if !validRoles[msg.Role] {
			return errors.New("Invalid message role")
		}
		if utf8.RuneCountInString(msg.Content) > MaxContentChars {
			return errors.New("Message content must be string under 50000 characters")
		}
	}
	return nil
}

// ValidateModel checks an optional model parameter.
func ValidateModel(model string) error {
	if utf8.RuneCountInString(model) > MaxModelChars {
		return errors.New("Invalid model parameter")
	}
	return nil
}

// Validate checks a whole chat body.
func (b ChatBody) Validate() error {
	if err := ValidateMessages(b.Messages); err != nil {
		return err
	}
	return ValidateModel(b.Model)
}

// Sanitize removes angle brackets, trims and caps s at MaxContentChars.
func Sanitize(s string) string {
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > MaxContentChars {
		s = string([]rune(s)[:MaxContentChars])
	}
	return s
}
