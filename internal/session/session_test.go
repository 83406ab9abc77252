package session

import (
	"fmt"
	"testing"

	"github.com/kestrelworks/kestrel-agent/internal/memory"
)

func TestLatestMessage(t *testing.T) {
	s := New("conv-1", "m", "alt", "u1")
	if got := s.LatestMessage(); got.Content != "" {
		t.Errorf("empty session returned %+v", got)
	}

	s.AddMessage("user", "first")
	s.AddMessage("assistant", "reply")
	s.AddMessage("user", "second")
	s.AddMessage("assistant", "another reply")

	if got := s.LatestMessage().Content; got != "second" {
		t.Errorf("latest user message = %q, want second", got)
	}
}

func TestMergeThoughtsKeepsExisting(t *testing.T) {
	s := New("conv-1", "m", "alt", "u1")
	s.MergeThoughts(Thoughts{Environment: "quiet evening", Context: "follow-up"})
	s.MergeThoughts(Thoughts{Tools: "memory applies"})
	s.MergeThoughts(Thoughts{Context: "actually a new topic"})

	if s.Thoughts.Environment != "quiet evening" {
		t.Errorf("environment overwritten: %q", s.Thoughts.Environment)
	}
	if s.Thoughts.Context != "actually a new topic" {
		t.Errorf("context not updated: %q", s.Thoughts.Context)
	}
	if s.Thoughts.Tools != "memory applies" {
		t.Errorf("tools lost: %q", s.Thoughts.Tools)
	}
}

func TestAppendToolContextReplacesSameTool(t *testing.T) {
	s := New("conv-1", "m", "alt", "u1")

	s.AppendToolContext("memory", memory.Document{ID: "d1"})
	s.AppendToolContext("web_fetch", memory.Document{ID: "d2"})
	s.AppendToolContext("memory", memory.Document{ID: "d3"})

	if len(s.ToolContext) != 2 {
		t.Fatalf("len = %d, want 2 (same tool replaces)", len(s.ToolContext))
	}
	if s.ToolContext[0].Document.ID != "d3" {
		t.Errorf("memory entry = %s, want the replacement d3", s.ToolContext[0].Document.ID)
	}
}

func TestAppendToolContextEvictsOldestAtCap(t *testing.T) {
	s := New("conv-1", "m", "alt", "u1")

	for i := 0; i < MaxToolContext+2; i++ {
		s.AppendToolContext(fmt.Sprintf("tool-%d", i), memory.Document{ID: fmt.Sprintf("d%d", i)})
	}

	if len(s.ToolContext) != MaxToolContext {
		t.Fatalf("len = %d, want cap %d", len(s.ToolContext), MaxToolContext)
	}
	if s.ToolContext[0].ToolName != "tool-2" {
		t.Errorf("oldest survivor = %s, want tool-2", s.ToolContext[0].ToolName)
	}
}

func TestSetCurrentAndAdvance(t *testing.T) {
	s := New("conv-1", "m", "alt", "u1")
	task := &Task{ID: "t1", Name: "find notes"}
	action := &Action{ID: "a1", TaskID: "t1", ToolName: "memory", Name: "recall notes"}

	s.SetCurrent(action, task)
	if s.Config.CurrentTool != "memory" {
		t.Errorf("current tool = %q", s.Config.CurrentTool)
	}
	if s.Config.CurrentTask != task || s.Config.CurrentAction != action {
		t.Error("current task/action not recorded")
	}

	if got := s.AdvanceStep(); got != 1 {
		t.Errorf("first advance = %d, want 1", got)
	}
	if got := s.AdvanceStep(); got != 2 {
		t.Errorf("second advance = %d, want 2", got)
	}
}

func TestTaskByID(t *testing.T) {
	s := New("conv-1", "m", "alt", "u1")
	s.SetTasks([]*Task{{ID: "t1"}, {ID: "t2"}})

	if got := s.TaskByID("t2"); got == nil || got.ID != "t2" {
		t.Errorf("TaskByID(t2) = %+v", got)
	}
	if got := s.TaskByID("t9"); got != nil {
		t.Errorf("TaskByID(t9) = %+v, want nil", got)
	}
}
