package rules

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/farhan/arun/pkg/template"
)

// Phase identifies when a rule applies relative to tool retrieval
type Phase string

const (
	PhasePreRetrieval  Phase = "PRE_RETRIEVAL"
	PhasePostRetrieval Phase = "POST_RETRIEVAL"
)

func (p Phase) valid() bool {
	return p == PhasePreRetrieval || p == PhasePostRetrieval
}

// Threshold is a numeric bound that may be written either as a literal
// integer or as the name of an ExecutionPolicy field ("max_iterations").
type Threshold struct {
	Value     int
	FieldName string
}

// UnmarshalJSON accepts both integer and string forms
func (t *Threshold) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		t.Value = n
		t.FieldName = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if n, err := strconv.Atoi(s); err == nil {
			t.Value = n
			return nil
		}
		t.FieldName = s
		return nil
	}
	return fmt.Errorf("threshold must be an integer or a policy field name")
}

// Resolve returns the concrete bound, looking up policy fields by name
func (t Threshold) Resolve(policy template.ExecutionPolicy) (int, bool) {
	if t.FieldName == "" {
		return t.Value, true
	}
	return policy.Field(t.FieldName)
}

// Condition is the conjunction of predicates a rule checks against run state
type Condition struct {
	IterationGTE          *Threshold `json:"iteration_gte,omitempty"`
	SearchesUsedGTE       *Threshold `json:"searches_used_gte,omitempty"`
	ClarificationsUsedGTE *Threshold `json:"clarifications_used_gte,omitempty"`
	StateEquals           string     `json:"state_equals,omitempty"`
}

// Actions describes what a firing rule does to the candidate tool list
type Actions struct {
	Exclude  []string `json:"exclude,omitempty"`
	KeepOnly []string `json:"keep_only,omitempty"`
	SetStage string   `json:"set_stage,omitempty"`
}

// UnmarshalJSON accepts the exclude_tools/keep_only_tools aliases alongside
// the canonical keys
func (a *Actions) UnmarshalJSON(data []byte) error {
	var raw struct {
		Exclude       []string `json:"exclude"`
		ExcludeTools  []string `json:"exclude_tools"`
		KeepOnly      []string `json:"keep_only"`
		KeepOnlyTools []string `json:"keep_only_tools"`
		SetStage      string   `json:"set_stage"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.Exclude = raw.Exclude
	if len(a.Exclude) == 0 {
		a.Exclude = raw.ExcludeTools
	}
	a.KeepOnly = raw.KeepOnly
	if len(a.KeepOnly) == 0 {
		a.KeepOnly = raw.KeepOnlyTools
	}
	a.SetStage = raw.SetStage
	return nil
}

func (a Actions) empty() bool {
	return len(a.Exclude) == 0 && len(a.KeepOnly) == 0 && a.SetStage == ""
}

// Rule filters the tools an agent sees when its condition holds
type Rule struct {
	ApplyTo []Phase   `json:"apply_to"`
	When    Condition `json:"when"`
	Actions Actions   `json:"actions"`
}

func (r Rule) appliesTo(phase Phase) bool {
	for _, p := range r.ApplyTo {
		if p == phase {
			return true
		}
	}
	return false
}

// RunState is the per-run counters a rule condition is evaluated against
type RunState struct {
	Iteration          int
	SearchesUsed       int
	ClarificationsUsed int
	State              string
}

// matches reports whether every specified predicate holds. A threshold that
// names an unknown policy field never matches.
func (c Condition) matches(state RunState, policy template.ExecutionPolicy) bool {
	if c.IterationGTE != nil {
		bound, ok := c.IterationGTE.Resolve(policy)
		if !ok || state.Iteration < bound {
			return false
		}
	}
	if c.SearchesUsedGTE != nil {
		bound, ok := c.SearchesUsedGTE.Resolve(policy)
		if !ok || state.SearchesUsed < bound {
			return false
		}
	}
	if c.ClarificationsUsedGTE != nil {
		bound, ok := c.ClarificationsUsedGTE.Resolve(policy)
		if !ok || state.ClarificationsUsed < bound {
			return false
		}
	}
	if c.StateEquals != "" && state.State != c.StateEquals {
		return false
	}
	return true
}

// Parse decodes rules from raw template settings. Malformed entries are
// dropped rather than failing the whole template. A rule that names no phase
// applies to both.
func Parse(raw []json.RawMessage) []Rule {
	var parsed []Rule
	for _, entry := range raw {
		var r Rule
		if err := json.Unmarshal(entry, &r); err != nil {
			continue
		}
		if r.Actions.empty() {
			continue
		}
		if len(r.ApplyTo) == 0 {
			r.ApplyTo = []Phase{PhasePreRetrieval, PhasePostRetrieval}
		}
		ok := true
		for _, p := range r.ApplyTo {
			if !p.valid() {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		parsed = append(parsed, r)
	}
	return parsed
}
