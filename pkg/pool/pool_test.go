package pool

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farhan/arun/pkg/agent"
	"github.com/farhan/arun/pkg/store"
)

// fakeAgent tracks resets and binds to a fixed session id on execute
type fakeAgent struct {
	sessionID string
	nextID    string
	resets    int
	runs      int
}

func (f *fakeAgent) Execute(_ context.Context, params agent.Params) (*agent.Result, []agent.Event, error) {
	f.runs++
	if params.SessionID != "" {
		f.sessionID = params.SessionID
	} else {
		f.sessionID = f.nextID
	}
	return &agent.Result{Outcome: agent.OutcomeCompleted, FinalAnswer: "ok"}, nil, nil
}

func (f *fakeAgent) SessionID() string { return f.sessionID }
func (f *fakeAgent) Reset()            { f.resets++; f.sessionID = "" }

type fakeSessions struct {
	sessions map[string]*store.SessionRecord
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*store.SessionRecord, error) {
	rec, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return rec, nil
}

func newTestPool(t *testing.T) (*Pool, *[]*fakeAgent) {
	t.Helper()
	var built []*fakeAgent
	p, err := New(Config{
		Sessions: &fakeSessions{sessions: map[string]*store.SessionRecord{
			"sess-1": {ID: "sess-1", TemplateVersionID: "tv-1"},
		}},
		Factory: func(_ context.Context, kind, _ string) (agent.Agent, string, error) {
			if kind == "" {
				kind = agent.KindToolCalling
			}
			a := &fakeAgent{nextID: "new-sess"}
			built = append(built, a)
			return a, kind, nil
		},
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	return p, &built
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("should reuse an idle instance across sequential runs", func(t *testing.T) {
		p, built := newTestPool(t)

		first, err := p.Claim(ctx, ClaimParams{TemplateVersionID: "tv-1"})
		require.NoError(t, err)
		_, _, err = first.Execute(ctx, "task one", "", nil)
		require.NoError(t, err)
		require.NoError(t, p.Release(ctx, first.ID))

		second, err := p.Claim(ctx, ClaimParams{TemplateVersionID: "tv-1"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 1, p.Size())
		assert.Len(t, *built, 1)
		assert.Equal(t, 1, (*built)[0].resets)
	})

	t.Run("should fail a busy claim without touching the session binding", func(t *testing.T) {
		p, _ := newTestPool(t)

		inst, err := p.Claim(ctx, ClaimParams{TemplateVersionID: "tv-1"})
		require.NoError(t, err)
		_, _, err = inst.Execute(ctx, "task", "", nil)
		require.NoError(t, err)
		bound := inst.CurrentSessionID()
		require.NotEmpty(t, bound)

		err = inst.claim("other-session")
		assert.ErrorIs(t, err, ErrInstanceBusy)
		assert.Equal(t, bound, inst.CurrentSessionID())
	})

	t.Run("should grow when all matching instances are busy", func(t *testing.T) {
		p, _ := newTestPool(t)

		first, err := p.Claim(ctx, ClaimParams{TemplateVersionID: "tv-1"})
		require.NoError(t, err)
		second, err := p.Claim(ctx, ClaimParams{TemplateVersionID: "tv-1"})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, 2, p.Size())
	})

	t.Run("should key instances by version and kind", func(t *testing.T) {
		p, _ := newTestPool(t)

		first, err := p.Claim(ctx, ClaimParams{TemplateVersionID: "tv-1", AgentKind: agent.KindToolCalling})
		require.NoError(t, err)
		require.NoError(t, p.Release(ctx, first.ID))

		other, err := p.Claim(ctx, ClaimParams{TemplateVersionID: "tv-1", AgentKind: agent.KindFlexible})
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)
	})

	t.Run("should resolve the version from the session on resume", func(t *testing.T) {
		p, _ := newTestPool(t)

		inst, err := p.Claim(ctx, ClaimParams{SessionID: "sess-1"})
		require.NoError(t, err)
		assert.Equal(t, "tv-1", inst.TemplateVersionID)
		assert.Equal(t, "sess-1", inst.CurrentSessionID())
	})

	t.Run("should reject a version that conflicts with the session", func(t *testing.T) {
		p, _ := newTestPool(t)

		_, err := p.Claim(ctx, ClaimParams{SessionID: "sess-1", TemplateVersionID: "tv-other"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "conflicts")
	})

	t.Run("should require a version for fresh runs", func(t *testing.T) {
		p, _ := newTestPool(t)

		_, err := p.Claim(ctx, ClaimParams{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "template version is required")
	})

	t.Run("should propagate unknown session errors", func(t *testing.T) {
		p, _ := newTestPool(t)

		_, err := p.Claim(ctx, ClaimParams{SessionID: "missing"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRelease(t *testing.T) {
	ctx := context.Background()

	t.Run("should clear the binding and reset the agent", func(t *testing.T) {
		p, built := newTestPool(t)

		inst, err := p.Claim(ctx, ClaimParams{TemplateVersionID: "tv-1"})
		require.NoError(t, err)
		_, _, err = inst.Execute(ctx, "task", "", nil)
		require.NoError(t, err)

		require.NoError(t, p.Release(ctx, inst.ID))
		assert.False(t, inst.Busy())
		assert.Empty(t, inst.CurrentSessionID())
		assert.Equal(t, 1, (*built)[0].resets)
	})

	t.Run("should reject unknown instance ids", func(t *testing.T) {
		p, _ := newTestPool(t)
		assert.Error(t, p.Release(ctx, "nope"))
	})
}
