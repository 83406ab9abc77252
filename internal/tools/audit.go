package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of one audited tool call.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// ToolExecutionRecord is the audit trail entry for one logical tool
// execution: created pending, updated in place to exactly one terminal
// state.
type ToolExecutionRecord struct {
	ID          string          `json:"id"`
	ToolName    string          `json:"tool_name"`
	Action      string          `json:"action"`
	Parameters  map[string]any  `json:"parameters,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorType   string          `json:"error_type,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// AuditStore persists tool execution records.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates the audit store and its schema.
func NewAuditStore(db *sql.DB) (*AuditStore, error) {
	s := &AuditStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("audit store migrate: %w", err)
	}
	return s, nil
}

func (s *AuditStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS tool_executions (
		id           TEXT PRIMARY KEY,
		tool_name    TEXT NOT NULL,
		action       TEXT NOT NULL,
		parameters   TEXT NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL,
		result       TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		error_type   TEXT NOT NULL DEFAULT '',
		created_at   TEXT NOT NULL,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tool_executions_tool ON tool_executions(tool_name);
	`)
	return err
}

// Begin creates a pending record for one logical execution and returns
// its id.
func (s *AuditStore) Begin(ctx context.Context, toolName, action string, parameters map[string]any) (string, error) {
	id := uuid.NewString()
	params, err := json.Marshal(parameters)
	if err != nil {
		params = []byte("{}")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_executions (id, tool_name, action, parameters, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, toolName, action, string(params), string(ExecutionPending),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("create execution record: %w", err)
	}
	return id, nil
}

// Complete marks a pending record completed with its result. Records
// already in a terminal state are left untouched, so one logical call
// gets exactly one terminal update.
func (s *AuditStore) Complete(ctx context.Context, id, result string) error {
	return s.finish(ctx, id, ExecutionCompleted, result, "", "")
}

// Fail marks a pending record failed with the classified error.
func (s *AuditStore) Fail(ctx context.Context, id string, toolErr *ToolError) error {
	return s.finish(ctx, id, ExecutionFailed, "", toolErr.Message, string(toolErr.Type))
}

func (s *AuditStore) finish(ctx context.Context, id string, status ExecutionStatus, result, errMsg, errType string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_executions
		SET status = ?, result = ?, error = ?, error_type = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(status), result, errMsg, errType,
		time.Now().UTC().Format(time.RFC3339Nano), id, string(ExecutionPending))
	if err != nil {
		return fmt.Errorf("update execution record: %w", err)
	}
	return nil
}

// Get returns a record by id, or nil when it does not exist.
func (s *AuditStore) Get(ctx context.Context, id string) (*ToolExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tool_name, action, parameters, status, result, error, error_type,
		       created_at, completed_at
		FROM tool_executions WHERE id = ?
	`, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution record: %w", err)
	}
	return rec, nil
}

// ListByTool returns the most recent records for a tool, newest first.
func (s *AuditStore) ListByTool(ctx context.Context, toolName string, limit int) ([]*ToolExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool_name, action, parameters, status, result, error, error_type,
		       created_at, completed_at
		FROM tool_executions WHERE tool_name = ?
		ORDER BY created_at DESC LIMIT ?
	`, toolName, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution records: %w", err)
	}
	defer rows.Close()

	var recs []*ToolExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("list execution records: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type execScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row execScanner) (*ToolExecutionRecord, error) {
	var rec ToolExecutionRecord
	var params, status, createdAt string
	var completedAt sql.NullString
	err := row.Scan(&rec.ID, &rec.ToolName, &rec.Action, &params, &status,
		&rec.Result, &rec.Error, &rec.ErrorType, &createdAt, &completedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = ExecutionStatus(status)
	_ = json.Unmarshal([]byte(params), &rec.Parameters)
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt.String)
	}
	return &rec, nil
}
