package rules

import (
	"github.com/rs/zerolog"

	"github.com/farhan/arun/pkg/template"
)

// Decision is the accumulated effect of every rule that fired for a phase
type Decision struct {
	// Exclude lists tools removed from the candidate set, first mention first
	Exclude []string
	// KeepOnly, when non-nil, is the only set of tools allowed to survive.
	// Multiple firing rules narrow it by intersection.
	KeepOnly []string
	// Stage is the pipeline stage set by the last firing rule
	Stage string

	keepOnlySet bool
}

// Apply filters names through the decision, preserving input order
func (d Decision) Apply(names []string) []string {
	excluded := make(map[string]bool, len(d.Exclude))
	for _, name := range d.Exclude {
		excluded[name] = true
	}

	var keep map[string]bool
	if d.keepOnlySet {
		keep = make(map[string]bool, len(d.KeepOnly))
		for _, name := range d.KeepOnly {
			keep[name] = true
		}
	}

	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if excluded[name] {
			continue
		}
		if keep != nil && !keep[name] {
			continue
		}
		filtered = append(filtered, name)
	}
	return filtered
}

// Engine evaluates a template's rules against run state
type Engine struct {
	rules  []Rule
	logger zerolog.Logger
}

// NewEngine creates an engine for an already parsed rule set
func NewEngine(rules []Rule, logger zerolog.Logger) *Engine {
	return &Engine{
		rules:  rules,
		logger: logger,
	}
}

// Evaluate folds every rule that applies to the phase and matches the run
// state into a single decision. Exclusions accumulate as an order-preserving
// union, keep-only sets intersect, and the stage is overwritten by each
// firing rule so the last one wins.
func (e *Engine) Evaluate(state RunState, policy template.ExecutionPolicy, phase Phase) Decision {
	var d Decision
	for _, r := range e.rules {
		if !r.appliesTo(phase) || !r.When.matches(state, policy) {
			continue
		}

		for _, name := range r.Actions.Exclude {
			if !contains(d.Exclude, name) {
				d.Exclude = append(d.Exclude, name)
			}
		}

		if len(r.Actions.KeepOnly) > 0 {
			if !d.keepOnlySet {
				d.KeepOnly = append([]string(nil), r.Actions.KeepOnly...)
				d.keepOnlySet = true
			} else {
				d.KeepOnly = intersect(d.KeepOnly, r.Actions.KeepOnly)
			}
		}

		if r.Actions.SetStage != "" {
			d.Stage = r.Actions.SetStage
		}

		e.logger.Debug().
			Str("phase", string(phase)).
			Str("stage", d.Stage).
			Strs("exclude", r.Actions.Exclude).
			Strs("keep_only", r.Actions.KeepOnly).
			Msg("Rule fired")
	}
	return d
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, name := range b {
		inB[name] = true
	}
	result := make([]string, 0, len(a))
	for _, name := range a {
		if inB[name] {
			result = append(result, name)
		}
	}
	return result
}
