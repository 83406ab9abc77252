package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/kestrelworks/kestrel-agent/internal/session"
)

// transcriptWindow caps how much history the prompts carry.
const transcriptWindow = 20

// transcript renders the session's recent messages as role: content
// lines.
func transcript(snap *session.Session) string {
	msgs := snap.Messages
	if len(msgs) > transcriptWindow {
		msgs = msgs[len(msgs)-transcriptWindow:]
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return strings.TrimSpace(b.String())
}

// thoughtsText renders the merged thoughts as labeled lines, skipping
// empty fields.
func thoughtsText(snap *session.Session) string {
	var b strings.Builder
	add := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}
	add("Environment", snap.Thoughts.Environment)
	add("Context", snap.Thoughts.Context)
	add("Tools", snap.Thoughts.Tools)
	add("Memory", snap.Thoughts.Memory)
	add("Task", snap.Thoughts.Task)
	if b.Len() == 0 {
		return "(nothing yet)"
	}
	return strings.TrimSpace(b.String())
}

// taskLines renders the planned tasks as "id: name [status]" lines for
// the Next prompt.
func taskLines(snap *session.Session) []string {
	lines := make([]string, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		lines = append(lines, fmt.Sprintf("%s: %s [%s]", t.ID, t.Name, t.Status))
	}
	if len(lines) == 0 {
		return []string{"(no tasks planned)"}
	}
	return lines
}

// toolContextText renders the just-in-time context documents collected
// during Use phases.
func toolContextText(snap *session.Session) string {
	if len(snap.ToolContext) == 0 {
		return ""
	}
	var b strings.Builder
	for _, entry := range snap.ToolContext {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", entry.ToolName, entry.Document.Text)
	}
	return strings.TrimSpace(b.String())
}

// taskResultsText summarizes what each completed action produced, for
// the final answer prompt.
func taskResultsText(snap *session.Session) string {
	var b strings.Builder
	for _, task := range snap.Tasks {
		for _, action := range task.Actions {
			if action.Status == session.StatusPending {
				continue
			}
			fmt.Fprintf(&b, "%s (%s, %s): %s\n", action.Name, action.ToolName, action.Status, action.Result)
		}
	}
	return strings.TrimSpace(b.String())
}

// toolCatalog renders the registered tools for the Draft prompt.
func (c *Controller) toolCatalog() string {
	var b strings.Builder
	for _, def := range c.dispatcher.Registry().Definitions() {
		fmt.Fprintf(&b, "%s: %s\n", def.Name, def.Description)
	}
	if b.Len() == 0 {
		return "(no tools registered)"
	}
	return strings.TrimSpace(b.String())
}

// toolDefinition renders one tool with its actions for the Use prompt.
func (c *Controller) toolDefinition(name string) string {
	for _, def := range c.dispatcher.Registry().Definitions() {
		if def.Name != name {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s\n", def.Name, def.Description)
		for _, a := range def.Actions {
			fmt.Fprintf(&b, "  action %q: %s\n", a.Name, a.Description)
		}
		return strings.TrimSpace(b.String())
	}
	return name
}

// memorySummary asks the memory tool's context provider for the
// conversation's memories. Best-effort: failures yield an empty
// summary, never an error.
func (c *Controller) memorySummary(ctx context.Context, conversationID string) string {
	provider, ok := c.providers["memory"]
	if !ok {
		return ""
	}
	doc, err := provider.RecentContext(ctx, conversationID)
	if err != nil || doc == nil {
		return ""
	}
	return doc.Text
}
