package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Tool names used across the runtime
const (
	NameEcho          = "echo"
	NameClarification = "clarification"
	NameFinalAnswer   = "final_answer"
	NameReasoning     = "reasoning"
)

// RegisterBuiltins adds the built-in tools to a registry
func RegisterBuiltins(r *Registry) {
	r.Register(NameEcho, func() Tool { return &Echo{} })
	r.Register(NameClarification, func() Tool { return &Clarification{} })
	r.Register(NameFinalAnswer, func() Tool { return &FinalAnswer{} })
	r.Register(NameReasoning, func() Tool { return &Reasoning{} })
}

// Echo returns its input unchanged. Useful for smoke tests.
type Echo struct{}

func (t *Echo) Name() string        { return NameEcho }
func (t *Echo) Description() string { return "Returns the given text unchanged." }

func (t *Echo) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "description": "Text to echo back."}
		},
		"required": ["text"]
	}`)
}

func (t *Echo) Invoke(_ context.Context, args map[string]any, _ *Invocation) (string, error) {
	text, _ := args["text"].(string)
	return text, nil
}

// Clarification pauses the run to ask the user questions. Invoking it moves
// the run into the waiting state; the answers arrive on resume.
type Clarification struct{}

func (t *Clarification) Name() string { return NameClarification }

func (t *Clarification) Description() string {
	return "Ask the user clarifying questions when the task is ambiguous. The run pauses until the user answers."
}

func (t *Clarification) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"questions": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1,
				"description": "Questions for the user."
			}
		},
		"required": ["questions"]
	}`)
}

func (t *Clarification) Invoke(_ context.Context, args map[string]any, inv *Invocation) (string, error) {
	raw, _ := args["questions"].([]any)
	questions := make([]string, 0, len(raw))
	for _, q := range raw {
		if s, ok := q.(string); ok && s != "" {
			questions = append(questions, s)
		}
	}
	if len(questions) == 0 {
		return "", fmt.Errorf("at least one question is required")
	}

	inv.State = StateWaiting
	inv.PendingQuestions = questions
	inv.ClarificationsUsed++

	return "Waiting for the user to answer: " + strings.Join(questions, " "), nil
}

// FinalAnswer terminates the run with an answer and a completion status
type FinalAnswer struct{}

func (t *FinalAnswer) Name() string { return NameFinalAnswer }

func (t *FinalAnswer) Description() string {
	return "Deliver the final answer and end the task. Use status failed when the task cannot be completed."
}

func (t *FinalAnswer) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"answer": {"type": "string", "description": "The final answer to the task."},
			"status": {"type": "string", "enum": ["completed", "failed"], "description": "Whether the task succeeded."}
		},
		"required": ["answer"]
	}`)
}

func (t *FinalAnswer) Invoke(_ context.Context, args map[string]any, inv *Invocation) (string, error) {
	answer, _ := args["answer"].(string)
	status, _ := args["status"].(string)

	inv.FinalAnswer = answer
	if status == "failed" {
		inv.State = StateFailed
		inv.Failed = true
	} else {
		inv.State = StateCompleted
	}
	return answer, nil
}

// Reasoning records an intermediate thought plus completion flags. The
// flexible agent kind reads the flags to decide when to stop calling tools.
type Reasoning struct{}

func (t *Reasoning) Name() string { return NameReasoning }

func (t *Reasoning) Description() string {
	return "Record your reasoning about progress. Set task_completed or enough_data when ready to wrap up."
}

func (t *Reasoning) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"thought": {"type": "string", "description": "Current reasoning about the task."},
			"task_completed": {"type": "boolean", "description": "True when the task itself is done."},
			"enough_data": {"type": "boolean", "description": "True when enough information has been gathered."}
		},
		"required": ["thought"]
	}`)
}

func (t *Reasoning) Invoke(_ context.Context, args map[string]any, inv *Invocation) (string, error) {
	thought, _ := args["thought"].(string)
	if done, ok := args["task_completed"].(bool); ok && done {
		inv.TaskCompleted = true
	}
	if enough, ok := args["enough_data"].(bool); ok && enough {
		inv.EnoughData = true
	}
	return "Noted: " + thought, nil
}
