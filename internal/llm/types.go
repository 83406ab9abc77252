// Package llm provides LLM client implementations.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Options are per-request model parameters.
type Options struct {
	// Temperature controls sampling. Zero means deterministic for
	// providers that honor it; structured phase completions use 0.
	Temperature float64
	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int
	// User tags the request with an end-user identifier for provider-side
	// abuse tracking. Optional.
	User string
}

// ChatResponse is the unified response from any LLM provider.
// All fields use proper Go types — wire format conversion happens
// at provider boundaries (ollama.go, anthropic.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Timing (populated when available)
	TotalDuration time.Duration
}
