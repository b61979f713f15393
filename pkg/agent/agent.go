package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/farhan/arun/pkg/prompt"
	"github.com/farhan/arun/pkg/session"
	"github.com/farhan/arun/pkg/template"
	"github.com/farhan/arun/pkg/tool"
	"github.com/farhan/arun/pkg/toolsearch"
)

// Agent kind keys templates select by
const (
	KindToolCalling = "tool_calling_agent"
	KindFlexible    = "flexible_tool_calling_agent"
)

// Outcome is how a run ended. Pausing for clarification is a normal outcome,
// not an error.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeWaiting   Outcome = "waiting"
)

// Result is the terminal value of one Execute call
type Result struct {
	Outcome     Outcome
	FinalAnswer string
	Questions   []string // set when Outcome is waiting
}

// Params carries the per-run inputs to Execute
type Params struct {
	Task        string
	SessionID   string // resume when non-empty
	ContextData map[string]any
}

// Agent runs a bounded tool-augmented reasoning loop
type Agent interface {
	// Execute runs the loop until completion, failure, or a clarification
	// pause. The returned events describe the run in order.
	Execute(ctx context.Context, params Params) (*Result, []Event, error)

	// SessionID returns the session the agent is currently bound to
	SessionID() string

	// Reset clears per-run state so the instance can serve another session
	Reset()
}

// Deps are the shared services an agent is built on. The rule engine is not
// a dep: each agent builds its own from the template's rules.
type Deps struct {
	Provider Provider
	Sessions *session.Service
	Search   *toolsearch.Service
	Registry *tool.Registry
	Prompts  *prompt.Loader
	Logger   zerolog.Logger
}

// Factory builds an agent of one kind for a runtime configuration
type Factory func(deps Deps, rc *template.RuntimeConfig) (Agent, error)

// KindRegistry maps agent kind keys to factories. Templates pick their kind
// via the base_class settings key; unknown keys fall back to the registry's
// default.
type KindRegistry struct {
	factories   map[string]Factory
	defaultKind string
	logger      zerolog.Logger
}

// NewKindRegistry creates a registry with the built-in kinds registered
func NewKindRegistry(defaultKind string, logger zerolog.Logger) *KindRegistry {
	if defaultKind == "" {
		defaultKind = KindToolCalling
	}
	r := &KindRegistry{
		factories:   make(map[string]Factory),
		defaultKind: defaultKind,
		logger:      logger,
	}
	r.Register(KindToolCalling, func(deps Deps, rc *template.RuntimeConfig) (Agent, error) {
		return NewCore(deps, rc, false)
	})
	r.Register(KindFlexible, func(deps Deps, rc *template.RuntimeConfig) (Agent, error) {
		return NewCore(deps, rc, true)
	})
	return r
}

// Register adds or replaces a kind
func (r *KindRegistry) Register(kind string, factory Factory) {
	r.factories[kind] = factory
}

// Registered reports whether a kind key has a factory
func (r *KindRegistry) Registered(kind string) bool {
	_, ok := r.factories[kind]
	return ok
}

// Resolve picks the factory for a kind key, falling back to the default kind
// for unknown keys.
func (r *KindRegistry) Resolve(kind string) (string, Factory, error) {
	if factory, ok := r.factories[kind]; ok {
		return kind, factory, nil
	}
	if kind != "" {
		r.logger.Warn().Str("kind", kind).Str("fallback", r.defaultKind).Msg("Unknown agent kind, using default")
	}
	factory, ok := r.factories[r.defaultKind]
	if !ok {
		return "", nil, fmt.Errorf("default agent kind %q is not registered", r.defaultKind)
	}
	return r.defaultKind, factory, nil
}
