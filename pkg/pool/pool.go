package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/farhan/arun/internal/observability"
	"github.com/farhan/arun/pkg/agent"
	"github.com/farhan/arun/pkg/store"
)

// SessionRepo resolves sessions to their template version
type SessionRepo interface {
	GetSession(ctx context.Context, id string) (*store.SessionRecord, error)
}

// InstanceRecorder persists pool membership for operational visibility.
// Recording failures are logged, never fatal.
type InstanceRecorder interface {
	RecordInstance(ctx context.Context, id, templateVersionID, agentKind string) error
	UpdateInstanceSession(ctx context.Context, id, sessionID string) error
}

// Factory builds an agent for a template version. It returns the resolved
// kind so the pool can key instances by it even when the requested kind was
// empty or unknown.
type Factory func(ctx context.Context, agentKind, templateVersionID string) (agent.Agent, string, error)

// Config holds pool dependencies
type Config struct {
	Sessions SessionRepo
	Factory  Factory
	Recorder InstanceRecorder // optional
	Logger   zerolog.Logger
}

// ClaimParams describes one claim request
type ClaimParams struct {
	AgentKind         string
	TemplateVersionID string
	SessionID         string
	ContextData       map[string]any
}

// Pool keeps reusable agent instances keyed by (template version, agent
// kind). It grows on demand and never shrinks.
type Pool struct {
	sessions SessionRepo
	factory  Factory
	recorder InstanceRecorder
	logger   zerolog.Logger

	mu        sync.Mutex
	instances []*AgentInstance
	byID      map[string]*AgentInstance
}

// New creates an empty pool
func New(cfg Config) (*Pool, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session repo is required")
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("factory is required")
	}
	observability.EnsureRegistered()
	return &Pool{
		sessions: cfg.Sessions,
		factory:  cfg.Factory,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		byID:     make(map[string]*AgentInstance),
	}, nil
}

// Claim returns an idle instance for the request, creating one when none is
// available. Resuming a session resolves the version from the session row; a
// conflicting explicit version is a validation error.
func (p *Pool) Claim(ctx context.Context, params ClaimParams) (*AgentInstance, error) {
	versionID := params.TemplateVersionID

	if params.SessionID != "" {
		rec, err := p.sessions.GetSession(ctx, params.SessionID)
		if err != nil {
			observability.RecordInstanceClaim("error")
			return nil, fmt.Errorf("failed to resolve session: %w", err)
		}
		if versionID != "" && versionID != rec.TemplateVersionID {
			observability.RecordInstanceClaim("error")
			return nil, fmt.Errorf("template version %q conflicts with session's version %q",
				versionID, rec.TemplateVersionID)
		}
		versionID = rec.TemplateVersionID
	}

	if versionID == "" {
		observability.RecordInstanceClaim("error")
		return nil, fmt.Errorf("template version is required")
	}

	// build outside the lock only when needed; first try to reuse
	if inst := p.tryReuse(versionID, params.AgentKind, params.SessionID); inst != nil {
		observability.RecordInstanceClaim("reused")
		p.logger.Debug().
			Str("instance_id", inst.ID).
			Str("template_version_id", versionID).
			Msg("Instance reused")
		return inst, nil
	}

	a, kind, err := p.factory(ctx, params.AgentKind, versionID)
	if err != nil {
		observability.RecordInstanceClaim("error")
		return nil, fmt.Errorf("failed to build agent: %w", err)
	}

	inst := &AgentInstance{
		ID:                uuid.New().String(),
		AgentKind:         kind,
		TemplateVersionID: versionID,
		agent:             a,
	}
	if err := inst.claim(params.SessionID); err != nil {
		// fresh instance, cannot be busy
		observability.RecordInstanceClaim("error")
		return nil, err
	}

	p.mu.Lock()
	p.instances = append(p.instances, inst)
	p.byID[inst.ID] = inst
	size := len(p.instances)
	p.mu.Unlock()

	observability.SetPoolInstances(size)
	observability.RecordInstanceClaim("created")

	if p.recorder != nil {
		if err := p.recorder.RecordInstance(ctx, inst.ID, versionID, kind); err != nil {
			p.logger.Warn().Err(err).Str("instance_id", inst.ID).Msg("Failed to record instance")
		}
	}

	p.logger.Info().
		Str("instance_id", inst.ID).
		Str("agent_kind", kind).
		Str("template_version_id", versionID).
		Msg("Instance created")
	return inst, nil
}

// tryReuse scans for an idle instance matching the key and claims it
func (p *Pool) tryReuse(versionID, kind, sessionID string) *AgentInstance {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, inst := range p.instances {
		if inst.TemplateVersionID != versionID {
			continue
		}
		if kind != "" && inst.AgentKind != kind {
			continue
		}
		if err := inst.claim(sessionID); err == nil {
			return inst
		}
	}
	return nil
}

// Release returns the instance to the idle set
func (p *Pool) Release(ctx context.Context, instanceID string) error {
	p.mu.Lock()
	inst, ok := p.byID[instanceID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown instance %q", instanceID)
	}

	inst.release()

	if p.recorder != nil {
		if err := p.recorder.UpdateInstanceSession(ctx, instanceID, ""); err != nil {
			p.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("Failed to clear instance session")
		}
	}

	p.logger.Debug().Str("instance_id", instanceID).Msg("Instance released")
	return nil
}

// Get looks up an instance by id
func (p *Pool) Get(instanceID string) (*AgentInstance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.byID[instanceID]
	return inst, ok
}

// Size returns the number of registered instances
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instances)
}
