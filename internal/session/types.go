// Package session holds the mutable per-request reasoning state.
//
// A Session is created for one reasoning pass and handed by reference
// into every loop phase. It has no internal locking: the loop guarantees
// a single in-flight reasoning session per conversation, and phases run
// strictly in sequence. Concurrent reads within one phase use Snapshot.
package session

import (
	"time"
)

// Status describes the lifecycle of a Task or Action. Completed and
// failed are terminal — an Action never reverts to pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is a decomposed unit of user intent produced during planning.
type Task struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Actions   []*Action `json:"actions,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Action is one tool invocation step belonging to a Task. The payload
// is nil until the Use phase fills it; the result is recorded after Act.
type Action struct {
	ID       string         `json:"id"`
	TaskID   string         `json:"task_id"`
	ToolName string         `json:"tool_name"`
	Name     string         `json:"name"`
	Payload  map[string]any `json:"payload,omitempty"`
	Sequence int            `json:"sequence"`
	Status   Status         `json:"status"`
	Result   string         `json:"result,omitempty"`
}

// Message is a chat message within the conversation.
type Message struct {
	Role      string    `json:"role"` // system, user, assistant
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Thoughts are the loop's accumulated observations about the request.
// Observe fills Environment and Context; Draft fills Tools and Memory;
// Plan may set Task.
type Thoughts struct {
	Environment string `json:"environment,omitempty"`
	Context     string `json:"context,omitempty"`
	Tools       string `json:"tools,omitempty"`
	Memory      string `json:"memory,omitempty"`
	Task        string `json:"task,omitempty"`
}

// Config carries per-session model selection and loop bookkeeping.
type Config struct {
	Model         string  `json:"model"`
	AltModel      string  `json:"alt_model"`
	Step          int     `json:"step"`
	CurrentTool   string  `json:"current_tool,omitempty"`
	CurrentAction *Action `json:"current_action,omitempty"`
	CurrentTask   *Task   `json:"current_task,omitempty"`
	UserID        string  `json:"user_id,omitempty"`
	FastTrack     bool    `json:"fast_track,omitempty"`
}
