package content

import "strings"

// ContentType represents supported content types using IANA media types.
type ContentType string

const (
	ContentTypeText  ContentType = "text/plain"
	ContentTypeImage ContentType = "image/*"
)

// Chat roles accepted from callers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ContentBlock represents a single piece of content. Images are carried as
// data URLs and never decoded.
type ContentBlock struct {
	Type    ContentType `json:"type"`
	Text    string      `json:"text,omitempty"`
	DataURL string      `json:"data_url,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a single-block text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: ContentTypeText, Text: text}}}
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	var b strings.Builder
	for _, block := range m.Content {
		if block.Type == ContentTypeText {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// LastUserIndex returns the index of the last user message, or -1.
func LastUserIndex(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// WithImage returns a copy of messages in which the last user message also
// carries the image data URL. Messages without a user turn are unchanged.
func WithImage(messages []Message, dataURL string) []Message {
	idx := LastUserIndex(messages)
	if idx < 0 || strings.TrimSpace(dataURL) == "" {
		return messages
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	blocks := make([]ContentBlock, 0, len(out[idx].Content)+1)
	blocks = append(blocks, out[idx].Content...)
	blocks = append(blocks, ContentBlock{Type: ContentTypeImage, DataURL: dataURL})
	out[idx].Content = blocks
	return out
}
