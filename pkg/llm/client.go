// Package llm provides the chat client used by LLM-backed judges.
package llm

import "context"

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	// Model overrides the client's default model when non-empty.
	Model string
	// Messages is the conversation so far. System messages are extracted
	// into the provider's system slot where required.
	Messages []Message
	// MaxTokens bounds the response. Zero means the client default.
	MaxTokens int
	// Temperature, when non-nil, overrides the provider default.
	Temperature *float64
}

// CompletionResponse is the model's answer.
type CompletionResponse struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
}

// ChatClient is a minimal synchronous chat interface. Implementations must
// be safe for concurrent use.
type ChatClient interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
