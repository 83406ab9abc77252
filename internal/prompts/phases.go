package prompts

import (
	"fmt"
	"strings"
)

// observeEnvironmentTemplate reads the situational setting of a
// message. The format verb receives the latest user message.
const observeEnvironmentTemplate = `Read the user's message and describe the situation it arrives in: what the user appears to be doing, any urgency, and anything environmental worth noting. Two sentences at most.

Respond as JSON: {"environment": "<your reading>"}

User message:
%s`

// observeContextTemplate reads the conversational context. Verbs:
// recent transcript, latest message.
const observeContextTemplate = `Given the recent conversation, describe what the user's new message is really about and how it relates to what came before. Two sentences at most.

Respond as JSON: {"context": "<your reading>"}

Recent conversation:
%s

New message:
%s`

// draftToolsTemplate judges tool relevance. Verbs: tool catalog,
// latest message.
const draftToolsTemplate = `Decide which of the available tools could help with the user's request, and why. Mention only tools that plausibly apply; say "none" if none do.

Respond as JSON: {"tools": "<your assessment>"}

Available tools:
%s

User message:
%s`

// draftMemoryTemplate judges memory relevance. Verbs: known memories,
// latest message.
const draftMemoryTemplate = `Decide whether anything in stored memory bears on the user's request. Name the relevant memories, or say nothing applies.

Respond as JSON: {"memory": "<your assessment>"}

Stored memories:
%s

User message:
%s`

// planTemplate breaks the request into tasks. Verbs: merged thoughts,
// latest message.
const planTemplate = `Break the user's request into a short ordered list of tasks. Each task is one concrete objective; most requests need one or two. Do not plan tool calls here, only objectives.

Respond as JSON: {"tasks": [{"name": "<task objective>"}]}

What you know so far:
%s

User message:
%s`

// nextTemplate selects the next action. Verbs: open tasks, tool names,
// merged thoughts.
const nextTemplate = `Choose the single next action. Pick the tool that advances an open task, or "final_answer" when the tasks are satisfied and you are ready to answer the user.

Respond as JSON: {"action_name": "<short verb phrase>", "tool_name": "<one of the tools>", "task_id": "<id of the task this advances>"}

Open tasks:
%s

Tools you may choose from:
%s

What you know so far:
%s`

// useTemplate fills in the chosen action's payload. Verbs: tool
// definition, contextual documents, action name, merged thoughts.
const useTemplate = `Produce the payload for the chosen tool action. Use only fields the action's schema declares, and draw values from the context below.

Respond as JSON: {"action": "<the action to invoke>", "payload": {<schema fields>}}

Tool:
%s

Context documents:
%s

Chosen action: %s

What you know so far:
%s`

// finalAnswerTemplate composes the user-facing reply. Verbs:
// transcript, merged thoughts, task results.
const finalAnswerTemplate = `Write the reply to the user. Ground it in the work below; do not mention tasks, tools, or this scaffolding.

Conversation:
%s

What you learned:
%s

Task results:
%s`

// ObserveEnvironmentPrompt returns the environment-reading prompt for
// the Observe phase.
func ObserveEnvironmentPrompt(message string) string {
	return fmt.Sprintf(observeEnvironmentTemplate, message)
}

// ObserveContextPrompt returns the context-reading prompt for the
// Observe phase.
func ObserveContextPrompt(transcript, message string) string {
	if transcript == "" {
		transcript = "(no prior messages)"
	}
	return fmt.Sprintf(observeContextTemplate, transcript, message)
}

// DraftToolsPrompt returns the tool-relevance prompt for the Draft
// phase.
func DraftToolsPrompt(toolCatalog, message string) string {
	return fmt.Sprintf(draftToolsTemplate, toolCatalog, message)
}

// DraftMemoryPrompt returns the memory-relevance prompt for the Draft
// phase.
func DraftMemoryPrompt(memories, message string) string {
	if memories == "" {
		memories = "(no stored memories)"
	}
	return fmt.Sprintf(draftMemoryTemplate, memories, message)
}

// PlanPrompt returns the task-breakdown prompt for the Plan phase.
func PlanPrompt(thoughts, message string) string {
	return fmt.Sprintf(planTemplate, thoughts, message)
}

// NextPrompt returns the action-selection prompt for the Next phase.
func NextPrompt(tasks, toolNames []string, thoughts string) string {
	return fmt.Sprintf(nextTemplate,
		strings.Join(tasks, "\n"),
		strings.Join(toolNames, ", "),
		thoughts)
}

// UsePrompt returns the payload-generation prompt for the Use phase.
func UsePrompt(toolDefinition, contextDocs, actionName, thoughts string) string {
	if contextDocs == "" {
		contextDocs = "(none)"
	}
	return fmt.Sprintf(useTemplate, toolDefinition, contextDocs, actionName, thoughts)
}

// FinalAnswerPrompt returns the reply-composition prompt for the Done
// phase.
func FinalAnswerPrompt(transcript, thoughts, taskResults string) string {
	if taskResults == "" {
		taskResults = "(no tool results)"
	}
	return fmt.Sprintf(finalAnswerTemplate, transcript, thoughts, taskResults)
}
