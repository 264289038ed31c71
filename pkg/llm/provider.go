// Package llm defines the chat-completion Provider used by the clinical agents.
//
// Backends live in subpackages: openai talks to any OpenAI-compatible endpoint
// (Groq by default) and anyllm routes through mozilla-ai/any-llm-go.
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"strings"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation
type Message struct {
	Role    string
	Content string
}

// CompletionRequest carries everything the model needs for one answer
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message

	// Temperature of zero means provider default
	Temperature float64

	// MaxTokens of zero means provider default
	MaxTokens int

	// JSONMode asks the backend for a single JSON object
	JSONMode bool
}

// Usage is token accounting for a completion
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the model's full answer
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over chat-completion backends
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Name() string
}

// UserPrompt builds a request with a system prompt and one user message
func UserPrompt(system, user string) CompletionRequest {
	return CompletionRequest{
		SystemPrompt: system,
		Messages:     []Message{{Role: RoleUser, Content: user}},
	}
}

// jsonInstruction is appended to the system prompt by backends without a native JSON mode
const jsonInstruction = "Respond with a single valid JSON object and nothing else."

// WithJSONInstruction returns the system prompt extended for JSON-only answers
func WithJSONInstruction(system string) string {
	if strings.TrimSpace(system) == "" {
		return jsonInstruction
	}
	return strings.TrimRight(system, "\n") + "\n\n" + jsonInstruction
}
