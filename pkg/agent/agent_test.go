package agent

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farhan/arun/pkg/prompt"
	"github.com/farhan/arun/pkg/session"
	"github.com/farhan/arun/pkg/store"
	"github.com/farhan/arun/pkg/template"
	"github.com/farhan/arun/pkg/tool"
	"github.com/farhan/arun/pkg/toolsearch"
)

// scriptedProvider replays canned responses and records every request
type scriptedProvider struct {
	responses []*Response
	errs      []error
	requests  []Request
}

func (p *scriptedProvider) Provider() string { return "scripted" }

func (p *scriptedProvider) Call(_ context.Context, request Request) (*Response, error) {
	i := len(p.requests)
	p.requests = append(p.requests, request)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) {
		return &Response{Content: "out of script"}, nil
	}
	return p.responses[i], nil
}

// passthroughRepo serves every requested tool name as an unscored candidate
type passthroughRepo struct{}

func (passthroughRepo) ScoreActiveTools(_ context.Context, _ []float32, names []string) ([]*store.ScoredTool, error) {
	out := make([]*store.ScoredTool, len(names))
	for i, name := range names {
		out[i] = &store.ScoredTool{Tool: &store.ToolRecord{ID: name, Name: name, IsActive: true}}
	}
	return out, nil
}

func (passthroughRepo) ToolsByNames(_ context.Context, names []string) ([]*store.ToolRecord, error) {
	out := make([]*store.ToolRecord, len(names))
	for i, name := range names {
		out[i] = &store.ToolRecord{ID: name, Name: name, IsActive: true}
	}
	return out, nil
}

type staticEmbedder struct{}

func (staticEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type testEnv struct {
	deps     Deps
	store    *store.Store
	provider *scriptedProvider
}

func newTestEnv(t *testing.T, provider *scriptedProvider) *testEnv {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sessions, err := session.NewService(session.Config{Repo: st, Logger: zerolog.Nop()})
	require.NoError(t, err)

	search, err := toolsearch.NewService(toolsearch.Config{
		Repo:     passthroughRepo{},
		Embedder: staticEmbedder{},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	registry := tool.NewRegistry(zerolog.Nop())
	tool.RegisterBuiltins(registry)

	prompts, err := prompt.NewLoader("", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { prompts.Close() })

	return &testEnv{
		deps: Deps{
			Provider: provider,
			Sessions: sessions,
			Search:   search,
			Registry: registry,
			Prompts:  prompts,
			Logger:   zerolog.Nop(),
		},
		store:    st,
		provider: provider,
	}
}

func testConfig() *template.RuntimeConfig {
	return &template.RuntimeConfig{
		TemplateID:   "tpl-1",
		TemplateName: "test",
		VersionID:    "tv-1",
		Version:      1,
		LLM:          template.LLMPolicy{Model: "test-model", Temperature: 0.5, MaxTokens: 1024},
		Execution:    template.ExecutionPolicy{MaxIterations: 5},
		Tools:        []string{tool.NameEcho, tool.NameClarification, tool.NameFinalAnswer},
	}
}

func finalAnswerCall(id, answer string) ToolCall {
	return ToolCall{ID: id, Name: tool.NameFinalAnswer, Parameters: map[string]interface{}{"answer": answer}}
}

func TestToolCallingAgent(t *testing.T) {
	ctx := context.Background()

	t.Run("should complete when the final answer tool is called", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{ID: "c1", Name: tool.NameEcho, Parameters: map[string]interface{}{"text": "hello"}}}},
			{ToolCalls: []ToolCall{finalAnswerCall("c2", "the answer is hello")}},
		}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, testConfig(), false)
		require.NoError(t, err)

		result, events, err := core.Execute(ctx, Params{Task: "say hello"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, "the answer is hello", result.FinalAnswer)

		types := eventTypes(events)
		assert.Contains(t, types, EventToolCall)
		assert.Contains(t, types, EventMessage)
		assert.Equal(t, EventDone, types[len(types)-1])

		rec, err := env.store.GetSession(ctx, core.SessionID())
		require.NoError(t, err)
		assert.Equal(t, session.StateCompleted, rec.State)
	})

	t.Run("should force a tool call on the first iteration only", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{ID: "c1", Name: tool.NameEcho, Parameters: map[string]interface{}{"text": "x"}}}},
			{Content: "done"},
		}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, testConfig(), false)
		require.NoError(t, err)
		_, _, err = core.Execute(ctx, Params{Task: "t"})
		require.NoError(t, err)

		require.Len(t, provider.requests, 2)
		assert.Equal(t, ToolChoiceRequired, provider.requests[0].ToolChoice)
		assert.Equal(t, ToolChoiceAuto, provider.requests[1].ToolChoice)
	})

	t.Run("should treat a plain text reply as the final answer", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{ID: "c1", Name: tool.NameEcho, Parameters: map[string]interface{}{"text": "x"}}}},
			{Content: "direct answer"},
		}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, testConfig(), false)
		require.NoError(t, err)
		result, _, err := core.Execute(ctx, Params{Task: "t"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, "direct answer", result.FinalAnswer)
	})

	t.Run("should persist the task text, not the rendered prompt", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{finalAnswerCall("c1", "done")}},
		}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, testConfig(), false)
		require.NoError(t, err)
		_, _, err = core.Execute(ctx, Params{Task: "plain task text"})
		require.NoError(t, err)

		msgs, err := env.store.ListMessages(ctx, core.SessionID())
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(msgs), 2)
		assert.Equal(t, "system", msgs[0].Role)
		assert.Equal(t, "user", msgs[1].Role)
		assert.Equal(t, "plain task text", msgs[1].Content)
	})

	t.Run("should turn a quota violation into a tool result, not an abort", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{ID: "c1", Name: tool.NameEcho, Parameters: map[string]interface{}{"text": "a"}}}},
			{ToolCalls: []ToolCall{{ID: "c2", Name: tool.NameEcho, Parameters: map[string]interface{}{"text": "b"}}}},
			{ToolCalls: []ToolCall{finalAnswerCall("c3", "done anyway")}},
		}}
		env := newTestEnv(t, provider)

		rc := testConfig()
		rc.ToolPolicy = template.ToolPolicy{Quotas: map[string]template.ToolQuota{
			tool.NameEcho: {MaxCalls: 1},
		}}
		core, err := NewCore(env.deps, rc, false)
		require.NoError(t, err)

		result, _, err := core.Execute(ctx, Params{Task: "t"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)

		msgs, err := env.store.ListMessages(ctx, core.SessionID())
		require.NoError(t, err)
		var quotaResult string
		for _, m := range msgs {
			if m.Role == "tool" && m.ToolCallID == "c2" {
				quotaResult = m.Content
			}
		}
		assert.Contains(t, quotaResult, "limit of 1 calls")
	})

	t.Run("should turn an unknown tool into an error result", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{ID: "c1", Name: "nope", Parameters: map[string]interface{}{}}}},
			{ToolCalls: []ToolCall{finalAnswerCall("c2", "done")}},
		}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, testConfig(), false)
		require.NoError(t, err)
		result, _, err := core.Execute(ctx, Params{Task: "t"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)

		msgs, err := env.store.ListMessages(ctx, core.SessionID())
		require.NoError(t, err)
		found := false
		for _, m := range msgs {
			if m.Role == "tool" && m.ToolCallID == "c1" {
				assert.Contains(t, m.Content, "unknown tool")
				found = true
			}
		}
		assert.True(t, found)
	})

	t.Run("should mark the session failed on provider errors", func(t *testing.T) {
		provider := &scriptedProvider{errs: []error{errors.New("upstream exploded")}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, testConfig(), false)
		require.NoError(t, err)
		_, events, err := core.Execute(ctx, Params{Task: "t"})
		require.Error(t, err)
		assert.Contains(t, eventTypes(events), EventError)

		rec, err := env.store.GetSession(ctx, core.SessionID())
		require.NoError(t, err)
		assert.Equal(t, session.StateFailed, rec.State)
	})

	t.Run("should fall back to a source summary at the iteration limit", func(t *testing.T) {
		echo := func(id string) *Response {
			return &Response{ToolCalls: []ToolCall{{ID: id, Name: tool.NameEcho, Parameters: map[string]interface{}{"text": "x"}}}}
		}
		provider := &scriptedProvider{responses: []*Response{
			echo("c1"), echo("c2"), echo("c3"),
		}}
		env := newTestEnv(t, provider)

		rc := testConfig()
		rc.Execution.MaxIterations = 3
		core, err := NewCore(env.deps, rc, false)
		require.NoError(t, err)

		result, _, err := core.Execute(ctx, Params{Task: "t"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Contains(t, result.FinalAnswer, "iteration limit")
	})
}

func TestClarificationPauseAndResume(t *testing.T) {
	ctx := context.Background()

	t.Run("should leave the session WAITING and resume to completion", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{
				ID:   "c1",
				Name: tool.NameClarification,
				Parameters: map[string]interface{}{
					"questions": []interface{}{"which year?"},
				},
			}}},
		}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, testConfig(), false)
		require.NoError(t, err)

		result, _, err := core.Execute(ctx, Params{Task: "summarize the report"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeWaiting, result.Outcome)
		assert.Equal(t, []string{"which year?"}, result.Questions)

		sessionID := core.SessionID()
		rec, err := env.store.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, session.StateWaiting, rec.State)

		historyBefore, err := env.store.ListMessages(ctx, sessionID)
		require.NoError(t, err)

		// a fresh instance resumes with the user's answer
		provider.responses = append(provider.responses,
			&Response{ToolCalls: []ToolCall{finalAnswerCall("c2", "the 2024 report says X")}},
		)
		resumedCore, err := NewCore(env.deps, testConfig(), false)
		require.NoError(t, err)

		result, _, err = resumedCore.Execute(ctx, Params{Task: "2024", SessionID: sessionID})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, "the 2024 report says X", result.FinalAnswer)

		// resume saw the full earlier history plus the answer
		resumeReq := provider.requests[len(provider.requests)-1]
		assert.GreaterOrEqual(t, len(resumeReq.Messages), len(historyBefore))

		rec, err = env.store.GetSession(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, session.StateCompleted, rec.State)
	})
}

func TestFlexibleAgent(t *testing.T) {
	ctx := context.Background()

	flexConfig := func() *template.RuntimeConfig {
		rc := testConfig()
		rc.BaseClass = KindFlexible
		rc.Tools = []string{tool.NameEcho, tool.NameReasoning, tool.NameFinalAnswer}
		return rc
	}

	t.Run("should hide the final answer tool from the model", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{
				ID:   "c1",
				Name: tool.NameReasoning,
				Parameters: map[string]interface{}{
					"thought":     "all set",
					"enough_data": true,
				},
			}}},
			{Content: "closing answer"},
		}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, flexConfig(), true)
		require.NoError(t, err)

		result, _, err := core.Execute(ctx, Params{Task: "t"})
		require.NoError(t, err)
		assert.Equal(t, OutcomeCompleted, result.Outcome)
		assert.Equal(t, "closing answer", result.FinalAnswer)

		for _, schema := range provider.requests[0].Tools {
			assert.NotEqual(t, tool.NameFinalAnswer, schema.Name)
		}
	})

	t.Run("should close with a tool-free completion once flagged done", func(t *testing.T) {
		provider := &scriptedProvider{responses: []*Response{
			{ToolCalls: []ToolCall{{
				ID:   "c1",
				Name: tool.NameReasoning,
				Parameters: map[string]interface{}{
					"thought":        "finished",
					"task_completed": true,
				},
			}}},
			{Content: "free-form close"},
		}}
		env := newTestEnv(t, provider)

		core, err := NewCore(env.deps, flexConfig(), true)
		require.NoError(t, err)

		result, _, err := core.Execute(ctx, Params{Task: "t"})
		require.NoError(t, err)
		assert.Equal(t, "free-form close", result.FinalAnswer)

		closing := provider.requests[len(provider.requests)-1]
		assert.Empty(t, closing.Tools)
		assert.Equal(t, ToolChoiceNone, closing.ToolChoice)
	})
}

func TestKindRegistry(t *testing.T) {
	t.Run("should resolve registered kinds", func(t *testing.T) {
		r := NewKindRegistry(KindToolCalling, zerolog.Nop())

		kind, factory, err := r.Resolve(KindFlexible)
		require.NoError(t, err)
		assert.Equal(t, KindFlexible, kind)
		assert.NotNil(t, factory)
	})

	t.Run("should fall back to the default for unknown kinds", func(t *testing.T) {
		r := NewKindRegistry(KindToolCalling, zerolog.Nop())

		kind, _, err := r.Resolve("made_up_kind")
		require.NoError(t, err)
		assert.Equal(t, KindToolCalling, kind)
	})
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}
