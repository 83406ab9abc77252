package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelworks/kestrel-agent/internal/events"
	"github.com/kestrelworks/kestrel-agent/internal/memory"
)

// DefaultTimeout bounds one tool execution.
const DefaultTimeout = 30 * time.Second

// Dispatcher runs tool calls: resolve, validate, execute under a
// deadline, audit. Execution gets a context that is cancelled when the
// budget expires, so a timed-out tool is told to stop rather than left
// running against abandoned state.
type Dispatcher struct {
	registry *Registry
	audit    *AuditStore
	timeout  time.Duration
	logger   *slog.Logger
	bus      *events.Bus
}

// NewDispatcher creates a dispatcher. Zero timeout means
// DefaultTimeout; bus and logger may be nil.
func NewDispatcher(registry *Registry, audit *AuditStore, timeout time.Duration, logger *slog.Logger, bus *events.Bus) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		registry: registry,
		audit:    audit,
		timeout:  timeout,
		logger:   logger,
		bus:      bus,
	}
}

// Registry exposes the dispatcher's registry for enumeration.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Dispatch runs one tool call and returns its document. Every failure
// is a *ToolError: NotFound for unknown tools, Validation for unknown
// actions or bad payloads (both surfaced before any audit record is
// written), Timeout when the budget expires, and the classified
// execution error otherwise. Executions past validation leave exactly
// one audit record with one terminal status.
func (d *Dispatcher) Dispatch(ctx context.Context, conversationID, toolName, action string, payload map[string]any) (*memory.Document, error) {
	tool, err := d.registry.Resolve(toolName)
	if err != nil {
		return nil, err
	}

	spec, ok := actionSpec(tool, action)
	if !ok {
		return nil, ValidationError(
			fmt.Sprintf("unknown action %q for tool %q", action, toolName),
			map[string]any{"tool": toolName, "action": action})
	}
	if err := ValidatePayload(spec.Schema, payload); err != nil {
		return nil, err
	}

	recordID, err := d.audit.Begin(ctx, toolName, action, payload)
	if err != nil {
		return nil, Classify(err)
	}

	d.bus.Publish(events.Event{
		Source: events.SourceTools,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"tool": toolName, "action": action, "execution_id": recordID},
	})

	start := time.Now()
	doc, execErr := d.executeWithTimeout(ctx, tool, action, payload, conversationID)
	elapsed := time.Since(start)

	if execErr != nil {
		te := Classify(execErr)
		if auditErr := d.audit.Fail(ctx, recordID, te); auditErr != nil && d.logger != nil {
			d.logger.Error("audit update failed", "execution_id", recordID, "error", auditErr)
		}
		d.publishDone(recordID, toolName, string(te.Type), elapsed)
		if d.logger != nil {
			d.logger.Warn("tool execution failed",
				"tool", toolName, "action", action,
				"error_type", te.Type, "error", te.Message,
				"duration", elapsed)
		}
		return nil, te
	}

	result := ""
	if doc != nil {
		result = doc.ID
	}
	if auditErr := d.audit.Complete(ctx, recordID, result); auditErr != nil && d.logger != nil {
		d.logger.Error("audit update failed", "execution_id", recordID, "error", auditErr)
	}
	d.publishDone(recordID, toolName, "ok", elapsed)
	if d.logger != nil {
		d.logger.Debug("tool execution completed",
			"tool", toolName, "action", action, "duration", elapsed)
	}
	return doc, nil
}

// executeWithTimeout runs the tool under the dispatcher's budget. The
// execution context is cancelled at the deadline; the select still
// returns immediately so a tool that ignores cancellation cannot stall
// the caller.
func (d *Dispatcher) executeWithTimeout(ctx context.Context, tool Tool, action string, payload map[string]any, conversationID string) (*memory.Document, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	execCtx = WithConversationID(execCtx, conversationID)

	type outcome struct {
		doc *memory.Document
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		doc, err := tool.Execute(execCtx, action, payload)
		done <- outcome{doc, err}
	}()

	select {
	case out := <-done:
		return out.doc, out.err
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return nil, TimeoutError(tool.Name(), d.timeout.Milliseconds())
		}
		return nil, Classify(execCtx.Err())
	}
}

func (d *Dispatcher) publishDone(recordID, toolName, status string, elapsed time.Duration) {
	d.bus.Publish(events.Event{
		Source: events.SourceTools,
		Kind:   events.KindToolDone,
		Data: map[string]any{
			"tool":         toolName,
			"execution_id": recordID,
			"status":       status,
			"duration_ms":  elapsed.Milliseconds(),
		},
	})
}
