package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/farhan/arun/pkg/agent"
)

// ErrInstanceBusy is returned when claiming an instance that is already
// serving a session
var ErrInstanceBusy = errors.New("instance is busy")

// AgentInstance is a reusable worker holding one agent. An instance serves at
// most one session at a time; claim and release bracket each run.
type AgentInstance struct {
	ID                string
	AgentKind         string
	TemplateVersionID string

	mu               sync.Mutex
	busy             bool
	currentSessionID string
	agent            agent.Agent
}

// CurrentSessionID returns the session the instance is serving, empty when
// idle
func (i *AgentInstance) CurrentSessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.currentSessionID
}

// Busy reports whether the instance is serving a session
func (i *AgentInstance) Busy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.busy
}

// claim marks the instance busy. Claiming a busy instance fails without
// touching its session binding.
func (i *AgentInstance) claim(sessionID string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.busy {
		return ErrInstanceBusy
	}
	i.busy = true
	i.currentSessionID = sessionID
	return nil
}

// release resets the agent's per-run state and clears the session binding
func (i *AgentInstance) release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.agent.Reset()
	i.busy = false
	i.currentSessionID = ""
}

// Execute delegates the run to the agent, then re-reads the session the
// agent bound itself to (a fresh run creates its session inside Execute).
func (i *AgentInstance) Execute(ctx context.Context, task, sessionID string, contextData map[string]any) (*agent.Result, []agent.Event, error) {
	result, events, err := i.agent.Execute(ctx, agent.Params{
		Task:        task,
		SessionID:   sessionID,
		ContextData: contextData,
	})

	i.mu.Lock()
	i.currentSessionID = i.agent.SessionID()
	i.mu.Unlock()

	return result, events, err
}
