package tool

import (
	"fmt"

	"github.com/farhan/arun/pkg/template"
)

// State is the lifecycle state of one agent run
type State string

const (
	StateInited      State = "INITED"
	StateResearching State = "RESEARCHING"
	StateWaiting     State = "WAITING_FOR_CLARIFICATION"
	StateCompleted   State = "COMPLETED"
	StateFailed      State = "FAILED"
)

// Invocation carries the mutable state of a single agent run. Tools read and
// update it when invoked; the agent persists the counters into the session
// context between iterations.
type Invocation struct {
	State              State
	Stage              string
	Iteration          int
	SearchesUsed       int
	ClarificationsUsed int

	Sources          []Source
	PendingQuestions []string
	FinalAnswer      string
	Failed           bool

	// completion flags set by the reasoning tool
	TaskCompleted bool
	EnoughData    bool

	policy    template.ToolPolicy
	callCount map[string]int
}

// NewInvocation creates run state bound to a tool policy
func NewInvocation(policy template.ToolPolicy) *Invocation {
	return &Invocation{
		State:     StateInited,
		policy:    policy,
		callCount: make(map[string]int),
	}
}

// CanCallTool checks the tool's quota. A nil error means the call may
// proceed; a quota violation is reported as an error for the model to see,
// never as an abort.
func (inv *Invocation) CanCallTool(name string) error {
	quota, ok := inv.policy.Quota(name)
	if !ok || quota.MaxCalls <= 0 {
		return nil
	}
	if inv.callCount[name] >= quota.MaxCalls {
		return fmt.Errorf("tool %q has reached its limit of %d calls for this run", name, quota.MaxCalls)
	}
	return nil
}

// RecordToolCall counts one call against the tool's quota
func (inv *Invocation) RecordToolCall(name string) {
	inv.callCount[name]++
}

// Calls returns how many times the tool has been called this run
func (inv *Invocation) Calls(name string) int {
	return inv.callCount[name]
}

// Reset clears per-run state so the owning instance can serve another session
func (inv *Invocation) Reset() {
	inv.State = StateInited
	inv.Stage = ""
	inv.Iteration = 0
	inv.SearchesUsed = 0
	inv.ClarificationsUsed = 0
	inv.Sources = nil
	inv.PendingQuestions = nil
	inv.FinalAnswer = ""
	inv.Failed = false
	inv.TaskCompleted = false
	inv.EnoughData = false
	inv.callCount = make(map[string]int)
}

// Snapshot serializes the counters into a session context data map
func (inv *Invocation) Snapshot(data map[string]any) {
	data["state"] = string(inv.State)
	data["iteration"] = inv.Iteration
	data["searches_used"] = inv.SearchesUsed
	data["clarifications_used"] = inv.ClarificationsUsed
	if inv.Stage != "" {
		data["stage"] = inv.Stage
	}
	if len(inv.PendingQuestions) > 0 {
		data["pending_questions"] = inv.PendingQuestions
	}
	calls := make(map[string]any, len(inv.callCount))
	for name, n := range inv.callCount {
		calls[name] = n
	}
	data["tool_calls"] = calls
}

// Restore rebuilds the counters from a session context data map
func (inv *Invocation) Restore(data map[string]any) {
	if s, ok := data["state"].(string); ok {
		inv.State = State(s)
	}
	if s, ok := data["stage"].(string); ok {
		inv.Stage = s
	}
	inv.Iteration = intFrom(data["iteration"])
	inv.SearchesUsed = intFrom(data["searches_used"])
	inv.ClarificationsUsed = intFrom(data["clarifications_used"])
	if qs, ok := data["pending_questions"].([]any); ok {
		for _, q := range qs {
			if s, ok := q.(string); ok {
				inv.PendingQuestions = append(inv.PendingQuestions, s)
			}
		}
	}
	if calls, ok := data["tool_calls"].(map[string]any); ok {
		for name, n := range calls {
			inv.callCount[name] = intFrom(n)
		}
	}
}

// intFrom tolerates the numeric types json round-trips produce
func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
