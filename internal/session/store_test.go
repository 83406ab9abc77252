package session

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func TestCreateTasksAssignsIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tasks := []*Task{{Name: "find notes"}, {Name: "summarize"}}
	if err := store.CreateTasks(ctx, "conv-1", tasks); err != nil {
		t.Fatalf("create tasks: %v", err)
	}
	for _, task := range tasks {
		if task.ID == "" {
			t.Errorf("task %q has no id", task.Name)
		}
		if task.Status != StatusPending {
			t.Errorf("task %q status = %s, want pending", task.Name, task.Status)
		}
	}

	listed, err := store.ListTasksByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("listed %d tasks, want 2", len(listed))
	}
}

func TestActionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tasks := []*Task{{Name: "find notes"}}
	if err := store.CreateTasks(ctx, "conv-1", tasks); err != nil {
		t.Fatalf("create tasks: %v", err)
	}

	action := &Action{TaskID: tasks[0].ID, ToolName: "memory", Name: "recall notes", Sequence: 1}
	if err := store.CreateAction(ctx, action); err != nil {
		t.Fatalf("create action: %v", err)
	}
	if action.ID == "" {
		t.Fatal("action id not assigned")
	}

	payload := map[string]any{"query": "notes"}
	if err := store.UpdateActionPayload(ctx, action.ID, payload); err != nil {
		t.Fatalf("update payload: %v", err)
	}
	if err := store.UpdateActionState(ctx, action.ID, StatusCompleted, "doc-1"); err != nil {
		t.Fatalf("update state: %v", err)
	}

	got, err := store.GetAction(ctx, action.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != StatusCompleted || got.Result != "doc-1" {
		t.Errorf("action = %+v, want completed with doc-1", got)
	}
	if got.Payload["query"] != "notes" {
		t.Errorf("payload = %+v", got.Payload)
	}
}

func TestActionStateNeverReverts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	action := &Action{TaskID: "t1", ToolName: "memory", Name: "recall", Sequence: 1}
	if err := store.CreateAction(ctx, action); err != nil {
		t.Fatalf("create action: %v", err)
	}

	if err := store.UpdateActionState(ctx, action.ID, StatusPending, ""); err == nil {
		t.Error("expected error for non-terminal state update")
	}

	if err := store.UpdateActionState(ctx, action.ID, StatusCompleted, "ok"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// A later failed update must not overwrite the terminal state.
	if err := store.UpdateActionState(ctx, action.ID, StatusFailed, "late"); err != nil {
		t.Fatalf("late update: %v", err)
	}

	got, err := store.GetAction(ctx, action.ID)
	if err != nil {
		t.Fatalf("get action: %v", err)
	}
	if got.Status != StatusCompleted || got.Result != "ok" {
		t.Errorf("action = %+v, terminal state reverted", got)
	}
}

func TestListTasksLoadsActionsInSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tasks := []*Task{{Name: "research"}}
	if err := store.CreateTasks(ctx, "conv-1", tasks); err != nil {
		t.Fatalf("create tasks: %v", err)
	}
	for i, name := range []string{"first", "second", "third"} {
		a := &Action{TaskID: tasks[0].ID, ToolName: "memory", Name: name, Sequence: i + 1}
		if err := store.CreateAction(ctx, a); err != nil {
			t.Fatalf("create action %s: %v", name, err)
		}
	}

	listed, err := store.ListTasksByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(listed) != 1 || len(listed[0].Actions) != 3 {
		t.Fatalf("listed = %+v, want 1 task with 3 actions", listed)
	}
	for i, want := range []string{"first", "second", "third"} {
		if listed[0].Actions[i].Name != want {
			t.Errorf("action %d = %s, want %s", i, listed[0].Actions[i].Name, want)
		}
	}
}
