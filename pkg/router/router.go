package router

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/farhan/arun/internal/tracing"
	"github.com/farhan/arun/pkg/agent"
	"github.com/farhan/arun/pkg/directory"
	"github.com/farhan/arun/pkg/pool"
	"github.com/farhan/arun/pkg/session"
	"github.com/farhan/arun/pkg/store"
	"github.com/farhan/arun/pkg/template"
)

// SessionRepo reads session rows for the route result
type SessionRepo interface {
	GetSession(ctx context.Context, id string) (*store.SessionRecord, error)
}

// ProviderFor builds an LLM provider for a resolved policy. Overridable in
// tests; defaults to agent.NewProvider.
type ProviderFor func(policy template.LLMPolicy) (agent.Provider, error)

// Config holds router dependencies
type Config struct {
	Templates *template.Service
	Directory *directory.Service
	Pool      *pool.Pool // optional: built internally when nil
	Kinds     *agent.KindRegistry
	Sessions  SessionRepo
	AgentDeps agent.Deps // Provider is filled in per template
	Provider  ProviderFor
	// DefaultTemplate is routed to when no entry is given, no session
	// matches, and directory search finds nothing
	DefaultTemplate string
	Logger          zerolog.Logger
}

// RouteParams describes one task to route
type RouteParams struct {
	Task        string
	TopK        int
	SessionID   string           // resume this session when non-empty
	Entry       *directory.Entry // explicit target, wins over everything
	ContextData map[string]any
}

// RouteResult is the outcome of a routed run
type RouteResult struct {
	Entry   *directory.Entry
	Result  *agent.Result
	Events  <-chan agent.Event
	Session *session.Context
}

// Router picks a template for a task, claims a pooled agent instance, runs
// it, and returns the event stream. Template precedence: explicit entry,
// then session lookup, then directory search, then the configured default.
type Router struct {
	templates   *template.Service
	directory   *directory.Service
	pool        *pool.Pool
	sessions    SessionRepo
	defaultName string
	logger      zerolog.Logger
}

// New creates a router. When cfg.Pool is nil a pool is built around an agent
// factory that resolves each template's kind and provider.
func New(cfg Config) (*Router, error) {
	if cfg.Templates == nil {
		return nil, fmt.Errorf("template service is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("directory service is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session repo is required")
	}

	r := &Router{
		templates:   cfg.Templates,
		directory:   cfg.Directory,
		pool:        cfg.Pool,
		sessions:    cfg.Sessions,
		defaultName: cfg.DefaultTemplate,
		logger:      cfg.Logger,
	}

	if r.pool == nil {
		if cfg.Kinds == nil {
			return nil, fmt.Errorf("kind registry is required")
		}
		providerFor := cfg.Provider
		if providerFor == nil {
			providerFor = agent.NewProvider
		}

		p, err := pool.New(pool.Config{
			Sessions: cfg.Sessions,
			Logger:   cfg.Logger,
			Factory:  r.agentFactory(cfg.Kinds, cfg.AgentDeps, providerFor),
		})
		if err != nil {
			return nil, err
		}
		r.pool = p
	}

	return r, nil
}

// agentFactory builds agents for the pool: resolve the template's runtime
// config, pick the kind, wire the provider.
func (r *Router) agentFactory(kinds *agent.KindRegistry, deps agent.Deps, providerFor ProviderFor) pool.Factory {
	return func(ctx context.Context, agentKind, templateVersionID string) (agent.Agent, string, error) {
		rc, err := r.templates.RuntimeConfigForVersion(ctx, templateVersionID)
		if err != nil {
			return nil, "", err
		}

		kindKey := agentKind
		if kindKey == "" {
			kindKey = rc.BaseClass
		}
		// unknown class keys fall back to a kind registered under the
		// template's name before the registry default applies
		if !kinds.Registered(kindKey) && kinds.Registered(rc.TemplateName) {
			kindKey = rc.TemplateName
		}
		kind, factory, err := kinds.Resolve(kindKey)
		if err != nil {
			return nil, "", err
		}

		provider, err := providerFor(rc.LLM)
		if err != nil {
			return nil, "", fmt.Errorf("failed to build provider: %w", err)
		}
		deps.Provider = provider

		a, err := factory(deps, rc)
		if err != nil {
			return nil, "", err
		}
		return a, kind, nil
	}
}

// Route resolves a template, runs the task on a pooled instance, and
// returns the events and final session state.
func (r *Router) Route(ctx context.Context, params RouteParams) (*RouteResult, error) {
	ctx, span := tracing.StartSpan(ctx, "router", "route")
	defer span.End()

	entry, err := r.resolveEntry(ctx, params)
	if err != nil {
		return nil, err
	}

	claim := pool.ClaimParams{
		SessionID:   params.SessionID,
		ContextData: params.ContextData,
	}
	if entry != nil {
		claim.TemplateVersionID = entry.VersionID
	}

	inst, err := r.pool.Claim(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("failed to claim instance: %w", err)
	}

	result, events, execErr := inst.Execute(ctx, params.Task, params.SessionID, params.ContextData)
	sessionID := inst.CurrentSessionID()

	if err := r.pool.Release(ctx, inst.ID); err != nil {
		r.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("Failed to release instance")
	}

	if execErr != nil {
		return nil, fmt.Errorf("run failed: %w", execErr)
	}

	sessCtx, err := r.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	ch := make(chan agent.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)

	r.logger.Info().
		Str("session_id", sessionID).
		Str("outcome", string(result.Outcome)).
		Msg("Route completed")

	return &RouteResult{
		Entry:   entry,
		Result:  result,
		Events:  ch,
		Session: sessCtx,
	}, nil
}

// resolveEntry applies the routing precedence. A session resume needs no
// entry: the pool resolves the version from the session row.
func (r *Router) resolveEntry(ctx context.Context, params RouteParams) (*directory.Entry, error) {
	if params.Entry != nil {
		return params.Entry, nil
	}
	if params.SessionID != "" {
		return nil, nil
	}

	entries, err := r.directory.Search(ctx, params.Task, params.TopK)
	if err != nil {
		return nil, fmt.Errorf("directory search failed: %w", err)
	}
	if len(entries) > 0 {
		r.logger.Debug().
			Str("template", entries[0].TemplateName).
			Float64("score", entries[0].Score).
			Msg("Routed by directory search")
		return entries[0], nil
	}

	if r.defaultName == "" {
		return nil, fmt.Errorf("no template matches the task and no default is configured")
	}
	entry, err := r.directory.Lookup(ctx, r.defaultName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default template: %w", err)
	}
	r.logger.Debug().Str("template", r.defaultName).Msg("Routed to default template")
	return entry, nil
}

func (r *Router) loadSession(ctx context.Context, sessionID string) (*session.Context, error) {
	rec, err := r.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session.Context{
		SessionID:         rec.ID,
		TemplateVersionID: rec.TemplateVersionID,
		State:             rec.State,
		Data:              rec.Context,
	}, nil
}
