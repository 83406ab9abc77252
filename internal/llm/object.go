package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ObjectRequest describes a structured completion: the model is asked
// to produce a JSON object which is unmarshalled into a typed struct.
type ObjectRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	User        string
}

// CompleteObject sends a structured completion request and unmarshals
// the model's JSON answer into T. It makes exactly one attempt: a
// malformed response is an error, never silently retried.
//
// Models wrap JSON in markdown fences or emit reasoning preambles
// (qwen-style <think> blocks); ExtractJSON strips both before parsing.
func CompleteObject[T any](ctx context.Context, c Client, req ObjectRequest) (T, error) {
	var zero T

	resp, err := c.Chat(ctx, req.Model, req.Messages, &Options{
		Temperature: req.Temperature,
		User:        req.User,
	})
	if err != nil {
		return zero, fmt.Errorf("object completion: %w", err)
	}

	raw := ExtractJSON(resp.Message.Content)
	if raw == "" {
		return zero, fmt.Errorf("object completion: no JSON object in response")
	}

	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return zero, fmt.Errorf("object completion: parse response: %w", err)
	}
	return out, nil
}

// ExtractJSON returns the first top-level JSON object or array embedded
// in s, stripping <think> blocks and markdown code fences. Returns ""
// if no JSON value is found.
func ExtractJSON(s string) string {
	// Drop reasoning blocks emitted by thinking models.
	for {
		start := strings.Index(s, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(s, "</think>")
		if end < 0 {
			s = s[:start]
			break
		}
		s = s[:start] + s[end+len("</think>"):]
	}

	// Strip markdown fences; the fence language tag (```json) is optional.
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "\n"); j >= 0 {
			s = s[j+1:]
		}
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// Scan for the first balanced object or array.
	open := strings.IndexAny(s, "{[")
	if open < 0 {
		return ""
	}
	opener := s[open]
	closer := byte('}')
	if opener == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == opener:
			depth++
		case ch == closer:
			depth--
			if depth == 0 {
				return s[open : i+1]
			}
		}
	}
	return ""
}
