// Package tools provides the tool registry and execution framework:
// name resolution, payload validation, timeout enforcement with real
// cancellation, a typed error taxonomy, and an audit trail of every
// execution.
package tools

import (
	"errors"
	"fmt"
)

// ErrorType classifies a tool failure.
type ErrorType string

const (
	ErrTypeValidation      ErrorType = "validation"
	ErrTypeNotFound        ErrorType = "not_found"
	ErrTypeTimeout         ErrorType = "timeout"
	ErrTypeRateLimit       ErrorType = "rate_limit"
	ErrTypeExternalService ErrorType = "external_service"
	ErrTypeExecution       ErrorType = "execution"
)

// codeFor maps each error type to its numeric code.
var codeFor = map[ErrorType]int{
	ErrTypeValidation:      400,
	ErrTypeNotFound:        404,
	ErrTypeTimeout:         408,
	ErrTypeRateLimit:       429,
	ErrTypeExternalService: 502,
	ErrTypeExecution:       500,
}

// ToolError is the structured error every dispatch failure surfaces.
type ToolError struct {
	Type    ErrorType      `json:"type"`
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	cause error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Code, e.Message)
}

func (e *ToolError) Unwrap() error { return e.cause }

// NewError creates a ToolError of the given type. Unknown types get
// the execution catch-all code.
func NewError(typ ErrorType, message string, details map[string]any) *ToolError {
	code, ok := codeFor[typ]
	if !ok {
		typ, code = ErrTypeExecution, codeFor[ErrTypeExecution]
	}
	return &ToolError{Type: typ, Code: code, Message: message, Details: details}
}

// NotFoundError reports an unknown tool name at resolution time.
func NotFoundError(toolName string) *ToolError {
	return NewError(ErrTypeNotFound,
		fmt.Sprintf("tool %q is not registered", toolName),
		map[string]any{"tool": toolName})
}

// ValidationError reports a malformed payload or unknown action.
func ValidationError(message string, details map[string]any) *ToolError {
	return NewError(ErrTypeValidation, message, details)
}

// TimeoutError reports an execution that exceeded its budget.
func TimeoutError(toolName string, timeoutMs int64) *ToolError {
	return NewError(ErrTypeTimeout,
		fmt.Sprintf("tool %q exceeded its %dms budget", toolName, timeoutMs),
		map[string]any{"tool": toolName, "timeout_ms": timeoutMs})
}

// Classify wraps err as a ToolError. An err that already is one passes
// through unchanged; anything else becomes the execution catch-all.
func Classify(err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	out := NewError(ErrTypeExecution, err.Error(), nil)
	out.cause = err
	return out
}

// IsType reports whether err is a ToolError of the given type.
func IsType(err error, typ ErrorType) bool {
	var te *ToolError
	return errors.As(err, &te) && te.Type == typ
}
