package repositories

import "context"

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// Generate answers a single request. History excludes the message being sent.
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// GenerateChat creates a stateful chat session with a fixed system instruction
	GenerateChat(ctx context.Context, systemInstruction string, history []ChatMessage) (ChatSession, error)
}

// GenerateRequest is a one-shot generation call.
type GenerateRequest struct {
	SystemInstruction string
	History           []ChatMessage
	Message           ChatMessage
}

// ChatSession represents an ongoing conversation session
type ChatSession interface {
	SendMessage(ctx context.Context, message ChatMessage) (ChatMessage, error)
	History() ([]ChatMessage, error)
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is inline media sent alongside a message.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole   Role = "user"
	ModelRole  Role = "model"
	SystemRole Role = "system"
)
