package tools

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrelworks/kestrel-agent/internal/memory"
)

type echoInput struct {
	Text string `json:"text" jsonschema_description:"Text to echo."`
	Tag  string `json:"tag,omitempty"`
}

var echoSchema = GenerateSchema[echoInput]()

// stubTool echoes its payload, or misbehaves on demand.
type stubTool struct {
	name      string
	execErr   error
	block     bool          // never resolve until cancelled
	cancelled chan struct{} // closed when a blocked execution observes ctx.Done
	gotConv   string
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "test tool" }

func (s *stubTool) Actions() []ActionSpec {
	return []ActionSpec{{Name: "echo", Description: "Echo the payload.", Schema: echoSchema}}
}

func (s *stubTool) Execute(ctx context.Context, action string, payload map[string]any) (*memory.Document, error) {
	s.gotConv = ConversationIDFromContext(ctx)
	if s.block {
		<-ctx.Done()
		if s.cancelled != nil {
			close(s.cancelled)
		}
		return nil, ctx.Err()
	}
	if s.execErr != nil {
		return nil, s.execErr
	}
	text, _ := payload["text"].(string)
	return &memory.Document{
		ID:       "doc-echo",
		Text:     text,
		Metadata: memory.Metadata{ContentType: memory.ContentFull},
	}, nil
}

func newTestDispatcher(t *testing.T, tool Tool, timeout time.Duration) (*Dispatcher, *AuditStore) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	audit, err := NewAuditStore(db)
	if err != nil {
		t.Fatalf("create audit store: %v", err)
	}

	registry := NewRegistry()
	if tool != nil {
		registry.Register(tool)
	}
	return NewDispatcher(registry, audit, timeout, nil, nil), audit
}

func TestDispatchUnknownToolIsNotFound(t *testing.T) {
	d, audit := newTestDispatcher(t, nil, 0)

	_, err := d.Dispatch(context.Background(), "conv-1", "nope", "echo", nil)
	if !IsType(err, ErrTypeNotFound) {
		t.Fatalf("got %v, want not_found", err)
	}
	var te *ToolError
	if !errors.As(err, &te) || te.Code != 404 {
		t.Errorf("code = %v, want 404", err)
	}

	// Resolution failures never reach the audit trail.
	recs, err := audit.ListByTool(context.Background(), "nope", 10)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("found %d audit records for unresolved tool, want 0", len(recs))
	}
}

func TestDispatchUnknownActionIsValidation(t *testing.T) {
	d, _ := newTestDispatcher(t, &stubTool{name: "echo"}, 0)

	_, err := d.Dispatch(context.Background(), "conv-1", "echo", "explode", nil)
	if !IsType(err, ErrTypeValidation) {
		t.Fatalf("got %v, want validation", err)
	}
}

func TestDispatchMissingRequiredFieldIsValidation(t *testing.T) {
	d, _ := newTestDispatcher(t, &stubTool{name: "echo"}, 0)

	_, err := d.Dispatch(context.Background(), "conv-1", "echo", "echo", map[string]any{"tag": "x"})
	if !IsType(err, ErrTypeValidation) {
		t.Fatalf("got %v, want validation for missing text", err)
	}

	_, err = d.Dispatch(context.Background(), "conv-1", "echo", "echo",
		map[string]any{"text": "hi", "bogus": true})
	if !IsType(err, ErrTypeValidation) {
		t.Fatalf("got %v, want validation for unknown field", err)
	}
}

func TestDispatchSuccessAuditsOnce(t *testing.T) {
	tool := &stubTool{name: "echo"}
	d, audit := newTestDispatcher(t, tool, 0)
	ctx := context.Background()

	doc, err := d.Dispatch(ctx, "conv-1", "echo", "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if doc == nil || doc.Text != "hello" {
		t.Fatalf("doc = %+v, want echoed text", doc)
	}
	if tool.gotConv != "conv-1" {
		t.Errorf("tool saw conversation %q, want conv-1", tool.gotConv)
	}

	recs, err := audit.ListByTool(ctx, "echo", 10)
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d audit records, want exactly 1", len(recs))
	}
	if recs[0].Status != ExecutionCompleted {
		t.Errorf("status = %s, want completed", recs[0].Status)
	}
	if recs[0].Result != "doc-echo" {
		t.Errorf("result = %q, want doc-echo", recs[0].Result)
	}
	if recs[0].CompletedAt.IsZero() {
		t.Error("completed record missing completion time")
	}
}

func TestDispatchExecutionErrorIsClassified(t *testing.T) {
	tool := &stubTool{name: "echo", execErr: errors.New("boom")}
	d, audit := newTestDispatcher(t, tool, 0)
	ctx := context.Background()

	_, err := d.Dispatch(ctx, "conv-1", "echo", "echo", map[string]any{"text": "hi"})
	if !IsType(err, ErrTypeExecution) {
		t.Fatalf("got %v, want execution catch-all", err)
	}
	var te *ToolError
	if !errors.As(err, &te) || te.Code != 500 {
		t.Errorf("code = %v, want 500", err)
	}

	recs, _ := audit.ListByTool(ctx, "echo", 10)
	if len(recs) != 1 || recs[0].Status != ExecutionFailed {
		t.Fatalf("records = %+v, want one failed", recs)
	}
	if recs[0].ErrorType != string(ErrTypeExecution) {
		t.Errorf("error_type = %q, want execution", recs[0].ErrorType)
	}
}

func TestDispatchTimeoutCancelsExecution(t *testing.T) {
	tool := &stubTool{name: "slow", block: true, cancelled: make(chan struct{})}
	timeout := 50 * time.Millisecond
	d, audit := newTestDispatcher(t, tool, timeout)
	ctx := context.Background()

	start := time.Now()
	_, err := d.Dispatch(ctx, "conv-1", "slow", "echo", map[string]any{"text": "hi"})
	elapsed := time.Since(start)

	if !IsType(err, ErrTypeTimeout) {
		t.Fatalf("got %v, want timeout", err)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("dispatch took %v, want ~%v", elapsed, timeout)
	}

	// The losing execution is told to stop, not abandoned.
	select {
	case <-tool.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked execution never observed cancellation")
	}

	recs, _ := audit.ListByTool(ctx, "slow", 10)
	if len(recs) != 1 || recs[0].Status != ExecutionFailed {
		t.Fatalf("records = %+v, want one failed", recs)
	}
	if recs[0].ErrorType != string(ErrTypeTimeout) {
		t.Errorf("error_type = %q, want timeout", recs[0].ErrorType)
	}
}

func TestAuditTerminalUpdateIsExactlyOnce(t *testing.T) {
	_, audit := newTestDispatcher(t, nil, 0)
	ctx := context.Background()

	id, err := audit.Begin(ctx, "echo", "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := audit.Complete(ctx, id, "doc-1"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// A second terminal update must not overwrite the first.
	if err := audit.Fail(ctx, id, TimeoutError("echo", 10)); err != nil {
		t.Fatalf("fail after complete: %v", err)
	}

	rec, err := audit.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != ExecutionCompleted || rec.Result != "doc-1" {
		t.Errorf("record = %+v, want completed with doc-1", rec)
	}
}

func TestRegistryNamesIncludeSentinel(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubTool{name: "echo"})

	names := r.Names()
	if names[len(names)-1] != FinalAnswerToolName {
		t.Errorf("names = %v, want %s last", names, FinalAnswerToolName)
	}
}

func TestClassifyPassesToolErrorsThrough(t *testing.T) {
	orig := TimeoutError("x", 100)
	if got := Classify(orig); got != orig {
		t.Errorf("Classify rewrapped an existing ToolError")
	}
	wrapped := Classify(errors.New("plain"))
	if wrapped.Type != ErrTypeExecution || wrapped.Code != 500 {
		t.Errorf("classified plain error as %s/%d", wrapped.Type, wrapped.Code)
	}
}
