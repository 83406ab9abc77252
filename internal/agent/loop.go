// Package agent implements the reasoning loop: a phase state machine
// that turns a user message into planned tasks, tool invocations, and
// a final answer.
//
// The machine runs Observe and Draft once, concurrently within each
// phase, then iterates Plan → Next → Use → Act until the planner
// selects the final-answer sentinel, the continuation predicate says
// stop, or Next repeatedly yields nothing. Phases run strictly in
// sequence; only the paired completions inside Observe/Draft and the
// backends under retrieval run concurrently.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kestrelworks/kestrel-agent/internal/events"
	"github.com/kestrelworks/kestrel-agent/internal/llm"
	"github.com/kestrelworks/kestrel-agent/internal/prompts"
	"github.com/kestrelworks/kestrel-agent/internal/session"
	"github.com/kestrelworks/kestrel-agent/internal/tools"
)

// maxEmptyNext bounds consecutive Next phases that produce no action.
// Without it a planner that keeps naming unknown tools would spin until
// the step bound with nothing to show; three misses in a row means the
// model is not going to pick a usable action.
const maxEmptyNext = 3

// DefaultMaxSteps bounds Act invocations per session.
const DefaultMaxSteps = 8

// Options tune a controller.
type Options struct {
	// MaxSteps bounds Act invocations (default DefaultMaxSteps). Only
	// consulted by the default continuation predicate.
	MaxSteps int
	// Continue decides after each Act whether the loop re-enters Plan.
	// Defaults to a step bound of MaxSteps.
	Continue func(*session.Session) bool
	// ContextProviders maps tool names to their just-in-time context
	// capability, consulted during Use.
	ContextProviders map[string]tools.ContextProvider
}

// Controller drives reasoning sessions. One controller serves many
// sessions; all per-request state lives in the *session.Session passed
// to Run.
type Controller struct {
	llm        llm.Client
	dispatcher *tools.Dispatcher
	store      *session.Store
	logger     *slog.Logger
	bus        *events.Bus

	providers  map[string]tools.ContextProvider
	continueFn func(*session.Session) bool
}

// NewController creates a reasoning loop controller. Pass nil opts for
// defaults.
func NewController(client llm.Client, dispatcher *tools.Dispatcher, store *session.Store, logger *slog.Logger, bus *events.Bus, opts *Options) *Controller {
	if opts == nil {
		opts = &Options{}
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	continueFn := opts.Continue
	if continueFn == nil {
		continueFn = func(s *session.Session) bool { return s.Config.Step < maxSteps }
	}
	return &Controller{
		llm:        client,
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
		bus:        bus,
		providers:  opts.ContextProviders,
		continueFn: continueFn,
	}
}

// Run executes one full reasoning session over sess and returns the
// final answer. A fatal error in any phase terminates the session
// immediately; there is no retry or partial-result salvage here.
func (c *Controller) Run(ctx context.Context, sess *session.Session) (string, error) {
	c.bus.Publish(events.Event{
		Source: events.SourceLoop,
		Kind:   events.KindSessionStart,
		Data:   map[string]any{"conversation_id": sess.ConversationID},
	})

	if err := c.observe(ctx, sess); err != nil {
		return "", fmt.Errorf("observe: %w", err)
	}
	if err := c.draft(ctx, sess); err != nil {
		return "", fmt.Errorf("draft: %w", err)
	}
	if err := c.think(ctx, sess); err != nil {
		return "", err
	}

	answer, err := c.compose(ctx, sess)
	if err != nil {
		return "", fmt.Errorf("compose answer: %w", err)
	}
	sess.AddMessage("assistant", answer)

	c.bus.Publish(events.Event{
		Source: events.SourceLoop,
		Kind:   events.KindSessionDone,
		Data: map[string]any{
			"conversation_id": sess.ConversationID,
			"steps":           sess.Config.Step,
		},
	})
	return answer, nil
}

type environmentReading struct {
	Environment string `json:"environment"`
}

type contextReading struct {
	Context string `json:"context"`
}

// observe runs the environment and context readings concurrently.
// Either failing fails the phase; there is no partial fallback.
func (c *Controller) observe(ctx context.Context, sess *session.Session) error {
	defer c.phase(sess, "observe")()
	snap := sess.Snapshot()
	message := snap.LatestMessage().Content

	var (
		wg     sync.WaitGroup
		env    environmentReading
		cctx   contextReading
		envErr error
		ctxErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		env, envErr = llm.CompleteObject[environmentReading](ctx, c.llm, llm.ObjectRequest{
			Model: snap.Config.Model,
			User:  snap.Config.UserID,
			Messages: []llm.Message{
				{Role: "user", Content: prompts.ObserveEnvironmentPrompt(message)},
			},
		})
	}()
	go func() {
		defer wg.Done()
		cctx, ctxErr = llm.CompleteObject[contextReading](ctx, c.llm, llm.ObjectRequest{
			Model: snap.Config.Model,
			User:  snap.Config.UserID,
			Messages: []llm.Message{
				{Role: "user", Content: prompts.ObserveContextPrompt(transcript(&snap), message)},
			},
		})
	}()
	wg.Wait()
	if envErr != nil {
		return fmt.Errorf("environment reading: %w", envErr)
	}
	if ctxErr != nil {
		return fmt.Errorf("context reading: %w", ctxErr)
	}

	sess.MergeThoughts(session.Thoughts{
		Environment: env.Environment,
		Context:     cctx.Context,
	})
	return nil
}

type toolsReading struct {
	Tools string `json:"tools"`
}

type memoryReading struct {
	Memory string `json:"memory"`
}

// draft runs the tool-relevance and memory-relevance readings
// concurrently.
func (c *Controller) draft(ctx context.Context, sess *session.Session) error {
	defer c.phase(sess, "draft")()
	snap := sess.Snapshot()
	message := snap.LatestMessage().Content

	var (
		wg      sync.WaitGroup
		tr      toolsReading
		mr      memoryReading
		toolErr error
		memErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		tr, toolErr = llm.CompleteObject[toolsReading](ctx, c.llm, llm.ObjectRequest{
			Model: snap.Config.Model,
			User:  snap.Config.UserID,
			Messages: []llm.Message{
				{Role: "user", Content: prompts.DraftToolsPrompt(c.toolCatalog(), message)},
			},
		})
	}()
	go func() {
		defer wg.Done()
		mr, memErr = llm.CompleteObject[memoryReading](ctx, c.llm, llm.ObjectRequest{
			Model: snap.Config.Model,
			User:  snap.Config.UserID,
			Messages: []llm.Message{
				{Role: "user", Content: prompts.DraftMemoryPrompt(c.memorySummary(ctx, snap.ConversationID), message)},
			},
		})
	}()
	wg.Wait()
	if toolErr != nil {
		return fmt.Errorf("tool relevance: %w", toolErr)
	}
	if memErr != nil {
		return fmt.Errorf("memory relevance: %w", memErr)
	}

	sess.MergeThoughts(session.Thoughts{Tools: tr.Tools, Memory: mr.Memory})
	return nil
}

// think iterates Plan → Next → Use → Act until the planner selects the
// final-answer sentinel, Next comes up empty too many times in a row,
// or the continuation predicate says stop.
func (c *Controller) think(ctx context.Context, sess *session.Session) error {
	emptyNext := 0
	for {
		if err := c.plan(ctx, sess); err != nil {
			return fmt.Errorf("plan: %w", err)
		}

		action, terminal, err := c.next(ctx, sess)
		if err != nil {
			return fmt.Errorf("next: %w", err)
		}
		if terminal {
			return nil
		}
		if action == nil {
			emptyNext++
			if emptyNext >= maxEmptyNext {
				if c.logger != nil {
					c.logger.Warn("ending session after repeated empty action selection",
						"conversation_id", sess.ConversationID, "misses", emptyNext)
				}
				return nil
			}
			sess.AdvanceStep()
			if !c.continueFn(sess) {
				return nil
			}
			continue
		}
		emptyNext = 0

		payload, err := c.use(ctx, sess)
		if err != nil {
			return fmt.Errorf("use: %w", err)
		}

		if err := c.act(ctx, sess, payload); err != nil {
			return fmt.Errorf("act: %w", err)
		}

		sess.AdvanceStep()
		if !c.continueFn(sess) {
			return nil
		}
	}
}

type plannedTask struct {
	Name string `json:"name"`
}

type planReading struct {
	Tasks []plannedTask `json:"tasks"`
}

// plan breaks the request into tasks and persists them. Sampling is
// deterministic: planning twice over the same state should not invent
// different work.
func (c *Controller) plan(ctx context.Context, sess *session.Session) error {
	defer c.phase(sess, "plan")()
	snap := sess.Snapshot()

	out, err := llm.CompleteObject[planReading](ctx, c.llm, llm.ObjectRequest{
		Model:       snap.Config.Model,
		Temperature: 0,
		User:        snap.Config.UserID,
		Messages: []llm.Message{
			{Role: "user", Content: prompts.PlanPrompt(thoughtsText(&snap), snap.LatestMessage().Content)},
		},
	})
	if err != nil {
		return err
	}

	tasks := make([]*session.Task, 0, len(out.Tasks))
	for _, pt := range out.Tasks {
		if strings.TrimSpace(pt.Name) == "" {
			continue
		}
		tasks = append(tasks, &session.Task{Name: pt.Name})
	}
	if err := c.store.CreateTasks(ctx, sess.ConversationID, tasks); err != nil {
		return err
	}
	sess.SetTasks(tasks)
	return nil
}

type nextReading struct {
	ActionName string `json:"action_name"`
	ToolName   string `json:"tool_name"`
	TaskID     string `json:"task_id"`
}

// next selects the next action. It returns (nil, true, nil) when the
// planner picked the final-answer sentinel, and (nil, false, nil) when
// the selection could not be resolved to a registered tool and task —
// the loop advances with no action rather than failing.
func (c *Controller) next(ctx context.Context, sess *session.Session) (*session.Action, bool, error) {
	defer c.phase(sess, "next")()
	snap := sess.Snapshot()

	out, err := llm.CompleteObject[nextReading](ctx, c.llm, llm.ObjectRequest{
		Model: snap.Config.Model,
		User:  snap.Config.UserID,
		Messages: []llm.Message{
			{Role: "user", Content: prompts.NextPrompt(taskLines(&snap), c.dispatcher.Registry().Names(), thoughtsText(&snap))},
		},
	})
	if err != nil {
		return nil, false, err
	}

	if out.ToolName == tools.FinalAnswerToolName {
		return nil, true, nil
	}

	if _, err := c.dispatcher.Registry().Resolve(out.ToolName); err != nil {
		if c.logger != nil {
			c.logger.Debug("selected tool not registered", "tool", out.ToolName)
		}
		return nil, false, nil
	}
	task := sess.TaskByID(out.TaskID)
	if task == nil {
		if c.logger != nil {
			c.logger.Debug("selected task not in plan", "task_id", out.TaskID)
		}
		return nil, false, nil
	}

	action := &session.Action{
		TaskID:   task.ID,
		ToolName: out.ToolName,
		Name:     out.ActionName,
		Sequence: len(task.Actions) + 1,
		Status:   session.StatusPending,
	}
	if err := c.store.CreateAction(ctx, action); err != nil {
		return nil, false, err
	}
	task.Actions = append(task.Actions, action)
	sess.SetCurrent(action, task)
	return action, false, nil
}

type useReading struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

// use fetches just-in-time context for context-dependent tools, then
// generates the current action's payload and persists it.
func (c *Controller) use(ctx context.Context, sess *session.Session) (*useReading, error) {
	defer c.phase(sess, "use")()

	toolName := sess.Config.CurrentTool
	if provider, ok := c.providers[toolName]; ok {
		doc, err := provider.RecentContext(ctx, sess.ConversationID)
		if err == nil && doc != nil {
			sess.AppendToolContext(toolName, *doc)
		} else if err != nil && c.logger != nil {
			c.logger.Warn("context provider failed", "tool", toolName, "error", err)
		}
	}

	snap := sess.Snapshot()
	out, err := llm.CompleteObject[useReading](ctx, c.llm, llm.ObjectRequest{
		Model: snap.Config.Model,
		User:  snap.Config.UserID,
		Messages: []llm.Message{
			{Role: "user", Content: prompts.UsePrompt(
				c.toolDefinition(toolName),
				toolContextText(&snap),
				snap.Config.CurrentAction.Name,
				thoughtsText(&snap),
			)},
		},
	})
	if err != nil {
		return nil, err
	}

	if err := c.store.UpdateActionPayload(ctx, sess.Config.CurrentAction.ID, out.Payload); err != nil {
		return nil, err
	}
	sess.Config.CurrentAction.Payload = out.Payload
	return &out, nil
}

// act dispatches the current action through the tool registry and
// records the outcome. A dispatch failure is fatal to the session; the
// action's failed state is recorded before the error propagates.
func (c *Controller) act(ctx context.Context, sess *session.Session, use *useReading) error {
	defer c.phase(sess, "act")()
	action := sess.Config.CurrentAction

	doc, err := c.dispatcher.Dispatch(ctx, sess.ConversationID, action.ToolName, use.Action, use.Payload)
	if err != nil {
		action.Status = session.StatusFailed
		action.Result = err.Error()
		if stateErr := c.store.UpdateActionState(ctx, action.ID, session.StatusFailed, err.Error()); stateErr != nil && c.logger != nil {
			c.logger.Error("action state update failed", "action_id", action.ID, "error", stateErr)
		}
		return err
	}

	result := ""
	if doc != nil {
		result = doc.ID
		sess.AppendToolContext(action.ToolName, *doc)
	}
	action.Status = session.StatusCompleted
	action.Result = result
	if err := c.store.UpdateActionState(ctx, action.ID, session.StatusCompleted, result); err != nil {
		return err
	}
	return nil
}

// compose writes the final user-facing answer from the session's
// accumulated state.
func (c *Controller) compose(ctx context.Context, sess *session.Session) (string, error) {
	defer c.phase(sess, "compose")()
	snap := sess.Snapshot()

	resp, err := c.llm.Chat(ctx, snap.Config.Model, []llm.Message{
		{Role: "user", Content: prompts.FinalAnswerPrompt(
			transcript(&snap),
			thoughtsText(&snap),
			taskResultsText(&snap),
		)},
	}, &llm.Options{User: snap.Config.UserID})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Message.Content), nil
}

// phase publishes start/done events around a phase and returns the
// closer.
func (c *Controller) phase(sess *session.Session, name string) func() {
	c.bus.Publish(events.Event{
		Source: events.SourceLoop,
		Kind:   events.KindPhaseStart,
		Data:   map[string]any{"phase": name, "conversation_id": sess.ConversationID, "step": sess.Config.Step},
	})
	return func() {
		c.bus.Publish(events.Event{
			Source: events.SourceLoop,
			Kind:   events.KindPhaseDone,
			Data:   map[string]any{"phase": name, "conversation_id": sess.ConversationID, "step": sess.Config.Step},
		})
	}
}
