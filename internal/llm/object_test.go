package llm

import (
	"context"
	"testing"
)

// stubClient returns a canned response for every Chat call.
type stubClient struct {
	content string
	err     error
	calls   int
	gotOpts *Options
}

func (s *stubClient) Chat(ctx context.Context, model string, messages []Message, opts *Options) (*ChatResponse, error) {
	s.calls++
	s.gotOpts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{
		Model:   model,
		Message: Message{Role: "assistant", Content: s.content},
		Done:    true,
	}, nil
}

func (s *stubClient) Ping(ctx context.Context) error { return nil }

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fence no lang", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"preamble", "Here is the plan:\n{\"a\":1}", `{"a":1}`},
		{"think block", "<think>hmm {not json}</think>{\"a\":1}", `{"a":1}`},
		{"nested braces", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}{"}`, `{"a":"}{"}`},
		{"array", `[1,2,3]`, `[1,2,3]`},
		{"no json", "I cannot help with that.", ""},
		{"unbalanced", `{"a":1`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractJSON(tc.in); got != tc.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCompleteObject(t *testing.T) {
	type plan struct {
		Tasks []string `json:"tasks"`
	}

	c := &stubClient{content: "```json\n{\"tasks\":[\"check calendar\",\"reply\"]}\n```"}
	got, err := CompleteObject[plan](context.Background(), c, ObjectRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "plan it"}},
	})
	if err != nil {
		t.Fatalf("CompleteObject() error: %v", err)
	}
	if len(got.Tasks) != 2 || got.Tasks[0] != "check calendar" {
		t.Errorf("CompleteObject() = %+v, want 2 tasks", got)
	}
	if c.gotOpts == nil || c.gotOpts.Temperature != 0 {
		t.Error("structured completions should pass temperature through (default 0)")
	}
}

func TestCompleteObjectMalformed(t *testing.T) {
	c := &stubClient{content: "sorry, no JSON here"}
	_, err := CompleteObject[map[string]any](context.Background(), c, ObjectRequest{Model: "m"})
	if err == nil {
		t.Error("CompleteObject() with non-JSON response should error")
	}
}

func TestMultiClientRouting(t *testing.T) {
	local := &stubClient{content: "{}"}
	remote := &stubClient{content: "{}"}

	m := NewMultiClient(local)
	m.AddProvider("anthropic", remote)
	m.AddModel("claude-sonnet-4-5", "anthropic")

	if _, err := m.Chat(context.Background(), "claude-sonnet-4-5", nil, nil); err != nil {
		t.Fatal(err)
	}
	if remote.calls != 1 || local.calls != 0 {
		t.Errorf("mapped model routed to remote=%d local=%d, want 1/0", remote.calls, local.calls)
	}

	if _, err := m.Chat(context.Background(), "qwen3:8b", nil, nil); err != nil {
		t.Fatal(err)
	}
	if local.calls != 1 {
		t.Errorf("unmapped model should fall back to default client, local=%d", local.calls)
	}
}
