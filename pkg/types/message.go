package types

// MessageRole identifies the author of a chat message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ContentType identifies the kind of content carried by a message part.
type ContentType string

const (
	ContentTypeText  ContentType = "text"
	ContentTypeImage ContentType = "image"
)

// ContentPart is a single piece of message content. Text parts carry Text;
// image parts carry the raw image bytes, encoded per backend at send time.
type ContentPart struct {
	Type ContentType `json:"type"`

	// Text is the textual content for text parts.
	Text string `json:"text,omitempty"`

	// ImageData holds raw image bytes for image parts.
	ImageData []byte `json:"image_data,omitempty"`

	// MediaType is the MIME type of ImageData (e.g. "image/jpeg").
	// Defaults to image/jpeg when empty.
	MediaType string `json:"media_type,omitempty"`
}

// Message is a role-tagged sequence of content parts, the canonical
// backend-independent chat message.
type Message struct {
	Role    MessageRole   `json:"role"`
	Content []ContentPart `json:"content"`
}

// NewTextMessage creates a message with a single text part.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentPart{{Type: ContentTypeText, Text: text}},
	}
}

// NewSystemMessage creates a system message with the given text.
func NewSystemMessage(text string) Message {
	return NewTextMessage(RoleSystem, text)
}

// NewUserMessage creates a user message with the given text.
func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

// HasImage reports whether any content part is an image.
func (m Message) HasImage() bool {
	for _, part := range m.Content {
		if part.Type == ContentTypeImage {
			return true
		}
	}
	return false
}

// TextContent concatenates the text of all text parts.
func (m Message) TextContent() string {
	var out string
	for _, part := range m.Content {
		if part.Type == ContentTypeText {
			out += part.Text
		}
	}
	return out
}

// TokenUsage reports token consumption for a completion call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
