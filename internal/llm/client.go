package llm

import "context"

// Client is the interface that all LLM providers must implement.
// Implementations make exactly one attempt per call — retry and
// fallback policy belongs to the provider configuration, never to
// callers in the reasoning loop.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, model string, messages []Message, opts *Options) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
