package session

import (
	"time"

	"github.com/kestrelworks/kestrel-agent/internal/memory"
)

// MaxToolContext caps the number of just-in-time context documents a
// session accumulates. Context-dependent tools replace their previous
// entry, so the cap only bites when many distinct tools contribute.
const MaxToolContext = 8

// ToolContextEntry is one contextual document fetched during the Use
// phase, tagged with the tool that produced it.
type ToolContextEntry struct {
	ToolName  string          `json:"tool_name"`
	Document  memory.Document `json:"document"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Session is the request-scoped mutable state shared by all loop phases.
// It is owned exclusively by one loop invocation and passed by reference
// into every phase function; there is no global registry of sessions.
type Session struct {
	ConversationID string             `json:"conversation_id"`
	Messages       []Message          `json:"messages"`
	Tasks          []*Task            `json:"tasks"`
	Thoughts       Thoughts           `json:"thoughts"`
	Config         Config             `json:"config"`
	ToolContext    []ToolContextEntry `json:"tool_context,omitempty"`
}

// New creates a session for one reasoning pass over a conversation.
func New(conversationID, model, altModel, userID string) *Session {
	return &Session{
		ConversationID: conversationID,
		Config: Config{
			Model:    model,
			AltModel: altModel,
			UserID:   userID,
		},
	}
}

// AddMessage appends a chat message to the session transcript.
func (s *Session) AddMessage(role, content string) {
	s.Messages = append(s.Messages, Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}

// LatestMessage returns the most recent user message, or the zero
// Message if none exists.
func (s *Session) LatestMessage() Message {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "user" {
			return s.Messages[i]
		}
	}
	return Message{}
}

// Snapshot returns a value copy of the session for concurrent reads
// within a phase. Slice contents are shared; phases must not mutate
// snapshot internals.
func (s *Session) Snapshot() Session {
	return *s
}

// MergeThoughts applies non-empty fields of t onto the session's
// thoughts, leaving the rest untouched. Each phase writes only the
// fields it owns.
func (s *Session) MergeThoughts(t Thoughts) {
	if t.Environment != "" {
		s.Thoughts.Environment = t.Environment
	}
	if t.Context != "" {
		s.Thoughts.Context = t.Context
	}
	if t.Tools != "" {
		s.Thoughts.Tools = t.Tools
	}
	if t.Memory != "" {
		s.Thoughts.Memory = t.Memory
	}
	if t.Task != "" {
		s.Thoughts.Task = t.Task
	}
}

// SetTasks replaces the session's planned tasks.
func (s *Session) SetTasks(tasks []*Task) {
	s.Tasks = tasks
}

// TaskByID returns the task with the given id, or nil.
func (s *Session) TaskByID(id string) *Task {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// SetCurrent records the action chosen by the Next phase along with its
// tool and task.
func (s *Session) SetCurrent(action *Action, task *Task) {
	s.Config.CurrentAction = action
	s.Config.CurrentTask = task
	if action != nil {
		s.Config.CurrentTool = action.ToolName
	}
}

// AppendToolContext records a contextual document fetched for a tool.
// An existing entry for the same tool is replaced in place, and the
// collection never exceeds MaxToolContext: the oldest entry is evicted
// to admit a new tool's document.
func (s *Session) AppendToolContext(toolName string, doc memory.Document) {
	for i := range s.ToolContext {
		if s.ToolContext[i].ToolName == toolName {
			s.ToolContext[i].Document = doc
			s.ToolContext[i].FetchedAt = time.Now()
			return
		}
	}
	if len(s.ToolContext) >= MaxToolContext {
		s.ToolContext = s.ToolContext[1:]
	}
	s.ToolContext = append(s.ToolContext, ToolContextEntry{
		ToolName:  toolName,
		Document:  doc,
		FetchedAt: time.Now(),
	})
}

// AdvanceStep increments the loop's step counter and returns the new value.
func (s *Session) AdvanceStep() int {
	s.Config.Step++
	return s.Config.Step
}
