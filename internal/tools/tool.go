package tools

import (
	"context"

	"github.com/invopop/jsonschema"

	"github.com/kestrelworks/kestrel-agent/internal/memory"
)

// FinalAnswerToolName is the sentinel tool that terminates the
// reasoning loop. Selecting it during planning means the agent is ready
// to answer; it is never dispatched.
const FinalAnswerToolName = "final_answer"

// ActionSpec declares one action a tool supports, with the schema its
// payload must satisfy.
type ActionSpec struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Schema      *jsonschema.Schema `json:"schema,omitempty"`
}

// Tool is one callable capability. Execute returns the universal
// document envelope; failures should be ToolErrors where the tool can
// classify them, anything else is treated as an execution error.
type Tool interface {
	Name() string
	Description() string
	Actions() []ActionSpec
	Execute(ctx context.Context, action string, payload map[string]any) (*memory.Document, error)
}

// ContextProvider is implemented by context-dependent tools that can
// supply a just-in-time document before parameter generation. The
// fetch is best-effort: implementations convert their own failures
// into error documents rather than returning an error.
type ContextProvider interface {
	RecentContext(ctx context.Context, conversationID string) (*memory.Document, error)
}

// Definition is the prompt-facing description of a tool.
type Definition struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Actions     []ActionSpec `json:"actions"`
}
