package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists the tasks and actions a reasoning session produces,
// so the audit of what the agent planned and did survives the session.
type Store struct {
	db *sql.DB
}

// NewStore creates the task/action store and its schema.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("session store migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS tasks (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL DEFAULT '',
		name            TEXT NOT NULL,
		status          TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_conversation ON tasks(conversation_id);

	CREATE TABLE IF NOT EXISTS actions (
		id         TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL,
		tool_name  TEXT NOT NULL,
		name       TEXT NOT NULL,
		payload    TEXT NOT NULL DEFAULT '',
		sequence   INTEGER NOT NULL,
		status     TEXT NOT NULL,
		result     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_task ON actions(task_id);
	`)
	return err
}

// CreateTasks persists a plan's tasks, assigning ids and timestamps to
// any that lack them.
func (s *Store) CreateTasks(ctx context.Context, conversationID string, tasks []*Task) error {
	for _, task := range tasks {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		if task.Status == "" {
			task.Status = StatusPending
		}
		if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now().UTC()
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, conversation_id, name, status, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, task.ID, conversationID, task.Name, string(task.Status),
			task.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("create task %q: %w", task.Name, err)
		}
	}
	return nil
}

// CreateAction persists a pending action, assigning an id if unset.
func (s *Store) CreateAction(ctx context.Context, action *Action) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Status == "" {
		action.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO actions (id, task_id, tool_name, name, sequence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, action.ID, action.TaskID, action.ToolName, action.Name,
		action.Sequence, string(action.Status),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create action %q: %w", action.Name, err)
	}
	return nil
}

// UpdateActionPayload records the payload the Use phase generated.
func (s *Store) UpdateActionPayload(ctx context.Context, actionID string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode action payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE actions SET payload = ? WHERE id = ?`, string(raw), actionID)
	if err != nil {
		return fmt.Errorf("update action payload: %w", err)
	}
	return nil
}

// UpdateActionState records an action's terminal outcome. A status
// that is already terminal stays put: completed and failed never
// revert.
func (s *Store) UpdateActionState(ctx context.Context, actionID string, status Status, result string) error {
	if !status.Terminal() {
		return fmt.Errorf("action state %q is not terminal", status)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ?, result = ?
		WHERE id = ? AND status = ?
	`, string(status), result, actionID, string(StatusPending))
	if err != nil {
		return fmt.Errorf("update action state: %w", err)
	}
	return nil
}

// GetAction returns an action by id, or nil when it does not exist.
func (s *Store) GetAction(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, tool_name, name, payload, sequence, status, result
		FROM actions WHERE id = ?
	`, id)

	var a Action
	var payload, status string
	err := row.Scan(&a.ID, &a.TaskID, &a.ToolName, &a.Name, &payload,
		&a.Sequence, &status, &a.Result)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	a.Status = Status(status)
	if payload != "" {
		_ = json.Unmarshal([]byte(payload), &a.Payload)
	}
	return &a, nil
}

// ListTasksByConversation returns a conversation's tasks with their
// actions, oldest first.
func (s *Store) ListTasksByConversation(ctx context.Context, conversationID string) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, created_at FROM tasks
		WHERE conversation_id = ? ORDER BY created_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var task Task
		var status, createdAt string
		if err := rows.Scan(&task.ID, &task.Name, &status, &createdAt); err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		task.Status = Status(status)
		task.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	for _, task := range tasks {
		if err := s.loadActions(ctx, task); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (s *Store) loadActions(ctx context.Context, task *Task) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, tool_name, name, payload, sequence, status, result
		FROM actions WHERE task_id = ? ORDER BY sequence
	`, task.ID)
	if err != nil {
		return fmt.Errorf("load actions for task %s: %w", task.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var a Action
		var payload, status string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.ToolName, &a.Name, &payload,
			&a.Sequence, &status, &a.Result); err != nil {
			return fmt.Errorf("load actions for task %s: %w", task.ID, err)
		}
		a.Status = Status(status)
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &a.Payload)
		}
		task.Actions = append(task.Actions, &a)
	}
	return rows.Err()
}
