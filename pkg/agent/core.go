package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/farhan/arun/internal/observability"
	"github.com/farhan/arun/internal/tracing"
	"github.com/farhan/arun/pkg/prompt"
	"github.com/farhan/arun/pkg/rules"
	"github.com/farhan/arun/pkg/session"
	"github.com/farhan/arun/pkg/template"
	"github.com/farhan/arun/pkg/tool"
	"github.com/farhan/arun/pkg/toolsearch"
)

// DefaultMaxIterations bounds the loop when the template sets no limit
const DefaultMaxIterations = 15

// Core drives the tool-augmented reasoning loop. The flexible flag selects
// between the two loop variants: the tool-calling variant exposes the
// final-answer tool to the model and stops when it is invoked; the flexible
// variant hides it and instead closes with a free-form completion once the
// reasoning tool flags the task as done.
type Core struct {
	deps     Deps
	rc       *template.RuntimeConfig
	flexible bool
	kind     string
	logger   zerolog.Logger

	engine *rules.Engine
	inv    *tool.Invocation

	sess         *session.Context
	msgs         *session.MessageStore
	systemPrompt string
	tools        []tool.Tool
}

// NewCore builds an agent core for a runtime configuration
func NewCore(deps Deps, rc *template.RuntimeConfig, flexible bool) (*Core, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service is required")
	}
	if deps.Search == nil {
		return nil, fmt.Errorf("tool search service is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if deps.Prompts == nil {
		return nil, fmt.Errorf("prompt loader is required")
	}
	if rc == nil {
		return nil, fmt.Errorf("runtime config is required")
	}

	kind := KindToolCalling
	if flexible {
		kind = KindFlexible
	}

	observability.EnsureRegistered()

	return &Core{
		deps:     deps,
		rc:       rc,
		flexible: flexible,
		kind:     kind,
		logger:   deps.Logger.With().Str("agent_kind", kind).Logger(),
		engine:   rules.NewEngine(rules.Parse(rc.Rules), deps.Logger),
		inv:      tool.NewInvocation(rc.ToolPolicy),
	}, nil
}

// SessionID returns the session the core is currently bound to
func (c *Core) SessionID() string {
	if c.sess == nil {
		return ""
	}
	return c.sess.SessionID
}

// Reset clears per-run state so the instance can serve another session
func (c *Core) Reset() {
	c.inv.Reset()
	c.sess = nil
	c.msgs = nil
	c.systemPrompt = ""
	c.tools = nil
}

// Execute runs the loop until completion, failure, or a clarification pause
func (c *Core) Execute(ctx context.Context, params Params) (*Result, []Event, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "agent", "execute")
	defer span.End()

	var events []Event

	resumed := params.SessionID != ""
	if err := c.ensureSession(ctx, params); err != nil {
		return nil, events, err
	}
	ctx = tracing.WithSessionID(ctx, c.sess.SessionID)
	logger := c.logger.With().Str("session_id", c.sess.SessionID).Logger()

	if err := c.deps.Sessions.SetState(ctx, c.sess, session.StateActive); err != nil {
		return nil, events, err
	}
	c.inv.State = tool.StateResearching

	if err := c.refreshPromptTools(ctx, params.Task); err != nil {
		return nil, events, err
	}

	if !resumed {
		c.systemPrompt = c.deps.Prompts.Render(prompt.NameSystem, map[string]string{
			"tools": c.toolDescriptions(),
		})
		if err := c.saveMessage(ctx, session.ChatMessage{Role: "system", Content: c.systemPrompt}); err != nil {
			return nil, events, err
		}
		// the log keeps the user's own words, not the rendered prompt
		if err := c.saveMessage(ctx, session.ChatMessage{Role: "user", Content: params.Task}); err != nil {
			return nil, events, err
		}
	}

	maxIter := c.rc.Execution.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	finalAnswer := ""

loop:
	for c.inv.Iteration < maxIter {
		c.inv.Iteration++
		iter := c.inv.Iteration
		events = append(events, newEvent(EventStepStart, iter))

		if err := c.snapshotContext(ctx); err != nil {
			return nil, events, err
		}

		resp, err := c.deps.Provider.Call(ctx, c.buildRequest(iter))
		if err != nil {
			ev := newEvent(EventError, iter)
			ev.Content = err.Error()
			events = append(events, ev)
			logger.Error().Err(err).Int("iteration", iter).Msg("Provider call failed")
			c.failRun(ctx)
			observability.RecordAgentRun(c.kind, string(OutcomeFailed), time.Since(start))
			return nil, events, err
		}

		if resp.Content != "" {
			ev := newEvent(EventThinking, iter)
			ev.Content = resp.Content
			events = append(events, ev)
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				// a plain reply is the final answer
				finalAnswer = resp.Content
				break loop
			}
			events = append(events, newEvent(EventStepEnd, iter))
			continue
		}

		if err := c.saveMessage(ctx, session.ChatMessage{
			Role:       "assistant",
			Content:    encodeToolCalls(resp.Content, resp.ToolCalls),
			ToolCallID: resp.ToolCalls[0].ID,
		}); err != nil {
			return nil, events, err
		}

		for _, call := range resp.ToolCalls {
			callEv := newEvent(EventToolCall, iter)
			callEv.Tool = call.Name
			callEv.Content = compactArgs(call.Parameters)
			events = append(events, callEv)

			result := c.executeTool(ctx, iter, call, logger)

			resultEv := newEvent(EventToolResult, iter)
			resultEv.Tool = call.Name
			resultEv.Content = result
			events = append(events, resultEv)

			// the result lands adjacent to its call in the log
			if err := c.saveMessage(ctx, session.ChatMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			}); err != nil {
				return nil, events, err
			}
		}

		if err := c.snapshotContext(ctx); err != nil {
			return nil, events, err
		}

		switch c.inv.State {
		case tool.StateWaiting:
			if err := c.deps.Sessions.SetState(ctx, c.sess, session.StateWaiting); err != nil {
				return nil, events, err
			}
			events = append(events, newEvent(EventStepEnd, iter))
			logger.Info().Int("iteration", iter).Msg("Run paused for clarification")
			observability.RecordAgentRun(c.kind, string(OutcomeWaiting), time.Since(start))
			return &Result{
				Outcome:   OutcomeWaiting,
				Questions: c.inv.PendingQuestions,
			}, events, nil

		case tool.StateCompleted, tool.StateFailed:
			finalAnswer = c.inv.FinalAnswer
			break loop
		}

		if c.flexible && (c.inv.TaskCompleted || c.inv.EnoughData) {
			answer, err := c.closingCompletion(ctx)
			if err != nil {
				ev := newEvent(EventError, iter)
				ev.Content = err.Error()
				events = append(events, ev)
				c.failRun(ctx)
				observability.RecordAgentRun(c.kind, string(OutcomeFailed), time.Since(start))
				return nil, events, err
			}
			finalAnswer = answer
			break loop
		}

		events = append(events, newEvent(EventStepEnd, iter))
	}

	if finalAnswer == "" {
		finalAnswer = c.fallbackSummary()
		logger.Warn().Int("iterations", c.inv.Iteration).Msg("Iteration limit reached, using fallback summary")
	}

	if err := c.saveMessage(ctx, session.ChatMessage{Role: "assistant", Content: finalAnswer}); err != nil {
		return nil, events, err
	}

	outcome := OutcomeCompleted
	state := session.StateCompleted
	c.inv.State = tool.StateCompleted
	if c.inv.Failed {
		outcome = OutcomeFailed
		state = session.StateFailed
		c.inv.State = tool.StateFailed
	}

	if err := c.snapshotContext(ctx); err != nil {
		return nil, events, err
	}
	if err := c.deps.Sessions.SetState(ctx, c.sess, state); err != nil {
		return nil, events, err
	}

	events = append(events, chunkMessage(finalAnswer, c.inv.Iteration)...)
	events = append(events, newEvent(EventDone, c.inv.Iteration))

	observability.RecordAgentRun(c.kind, string(outcome), time.Since(start))
	logger.Info().
		Str("outcome", string(outcome)).
		Int("iterations", c.inv.Iteration).
		Msg("Run finished")

	return &Result{Outcome: outcome, FinalAnswer: finalAnswer}, events, nil
}

// ensureSession binds the core to a new or resumed session
func (c *Core) ensureSession(ctx context.Context, params Params) error {
	if params.SessionID == "" {
		sess, msgs, err := c.deps.Sessions.Start(ctx, c.rc.VersionID, params.ContextData)
		if err != nil {
			return err
		}
		c.sess = sess
		c.msgs = msgs
		return nil
	}

	sess, msgs, err := c.deps.Sessions.Resume(ctx, params.SessionID)
	if err != nil {
		return err
	}
	c.sess = sess
	c.msgs = msgs
	c.inv.Restore(sess.Data)

	for _, msg := range msgs.All() {
		if msg.Role == "system" {
			c.systemPrompt = msg.Content
			break
		}
	}

	if sess.State == session.StateWaiting && params.Task != "" {
		reply := c.deps.Prompts.Render(prompt.NameClarificationReply, map[string]string{
			"answers": params.Task,
		})
		if err := c.saveMessage(ctx, session.ChatMessage{Role: "user", Content: reply}); err != nil {
			return err
		}
		c.inv.PendingQuestions = nil
	}
	return nil
}

// refreshPromptTools rebuilds the toolkit the model sees: pre-retrieval
// rules narrow the candidates, tool search ranks them, post-retrieval rules
// filter the result.
func (c *Core) refreshPromptTools(ctx context.Context, task string) error {
	state := rules.RunState{
		Iteration:          c.inv.Iteration,
		SearchesUsed:       c.inv.SearchesUsed,
		ClarificationsUsed: c.inv.ClarificationsUsed,
		State:              string(c.inv.State),
	}

	candidates := c.rc.Tools
	if len(candidates) == 0 {
		candidates = c.deps.Registry.Names()
	}

	pre := c.engine.Evaluate(state, c.rc.Execution, rules.PhasePreRetrieval)
	candidates = pre.Apply(candidates)
	if pre.Stage != "" {
		c.inv.Stage = pre.Stage
	}

	result, err := c.deps.Search.Search(ctx, toolsearch.SearchParams{
		SessionID:      c.sess.SessionID,
		Query:          task,
		Policy:         c.rc.ToolPolicy,
		AvailableTools: candidates,
	})
	if err != nil {
		return fmt.Errorf("failed to retrieve tools: %w", err)
	}

	names := make([]string, len(result.Tools))
	for i, t := range result.Tools {
		names[i] = t.Name
	}

	post := c.engine.Evaluate(state, c.rc.Execution, rules.PhasePostRetrieval)
	names = post.Apply(names)
	if post.Stage != "" {
		c.inv.Stage = post.Stage
	}

	if c.flexible {
		names = remove(names, tool.NameFinalAnswer)
	} else if !containsName(names, tool.NameFinalAnswer) {
		if _, ok := c.deps.Registry.Get(tool.NameFinalAnswer); ok {
			names = append(names, tool.NameFinalAnswer)
		}
	}

	c.tools = c.deps.Registry.Resolve(names)
	return nil
}

// executeTool runs one tool call and turns every failure mode into a result
// string the model can react to
func (c *Core) executeTool(ctx context.Context, iteration int, call ToolCall, logger zerolog.Logger) string {
	start := time.Now()

	result, err := func() (string, error) {
		if err := c.inv.CanCallTool(call.Name); err != nil {
			return "", err
		}
		t, ok := c.deps.Registry.Get(call.Name)
		if !ok {
			return "", fmt.Errorf("unknown tool %q", call.Name)
		}
		if err := tool.ValidateArgs(t, call.Parameters); err != nil {
			return "", err
		}
		out, err := t.Invoke(ctx, call.Parameters, c.inv)
		if err != nil {
			return "", err
		}
		c.inv.RecordToolCall(call.Name)
		return out, nil
	}()

	observability.RecordToolExecution(call.Name, time.Since(start), err == nil)

	payload := map[string]any{"tool": call.Name}
	if err != nil {
		payload["error"] = err.Error()
	}
	if stepErr := c.deps.Sessions.RecordStep(ctx, c.sess.SessionID, iteration, "tool_call", payload); stepErr != nil {
		logger.Warn().Err(stepErr).Msg("Failed to record step")
	}

	if err != nil {
		logger.Warn().Err(err).Str("tool", call.Name).Msg("Tool call failed")
		return "Error: " + err.Error()
	}
	return result
}

// closingCompletion asks the model for a final free-form answer with no
// tools. Used by the flexible variant once the reasoning tool flags
// completion.
func (c *Core) closingCompletion(ctx context.Context) (string, error) {
	req := c.buildRequest(c.inv.Iteration)
	req.Tools = nil
	req.ToolChoice = ToolChoiceNone

	resp, err := c.deps.Provider.Call(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Core) buildRequest(iteration int) Request {
	toolChoice := ToolChoiceAuto
	if iteration == 1 {
		toolChoice = ToolChoiceRequired
	}

	schemas := make([]ToolSchema, 0, len(c.tools))
	for _, t := range c.tools {
		var inputSchema map[string]interface{}
		if err := json.Unmarshal(t.Schema(), &inputSchema); err != nil {
			inputSchema = map[string]interface{}{"type": "object"}
		}
		schemas = append(schemas, ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: inputSchema,
		})
	}

	return Request{
		Model:        c.rc.LLM.Model,
		SystemPrompt: c.systemPrompt,
		Messages:     toProviderMessages(c.msgs.All()),
		Tools:        schemas,
		ToolChoice:   toolChoice,
		Temperature:  c.rc.LLM.Temperature,
		MaxTokens:    c.rc.LLM.MaxTokens,
	}
}

// fallbackSummary synthesizes an answer from collected sources when the
// iteration budget runs out
func (c *Core) fallbackSummary() string {
	if len(c.inv.Sources) == 0 {
		return "The iteration limit was reached before the task could be completed, and no sources were gathered."
	}

	var b strings.Builder
	for i, src := range c.inv.Sources {
		fmt.Fprintf(&b, "%d. %s (%s): %s\n", i+1, src.Title, src.URL, src.Snippet)
	}
	return c.deps.Prompts.Render(prompt.NameFallbackSummary, map[string]string{
		"sources": b.String(),
	})
}

func (c *Core) saveMessage(ctx context.Context, msg session.ChatMessage) error {
	return c.deps.Sessions.SaveMessage(ctx, c.sess, c.msgs, msg)
}

// snapshotContext persists the run counters into the session data
func (c *Core) snapshotContext(ctx context.Context) error {
	if c.sess.Data == nil {
		c.sess.Data = map[string]any{}
	}
	c.inv.Snapshot(c.sess.Data)
	return c.deps.Sessions.UpdateContext(ctx, c.sess)
}

// failRun marks the session FAILED, best effort
func (c *Core) failRun(ctx context.Context) {
	c.inv.State = tool.StateFailed
	if err := c.snapshotContext(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Failed to persist failure state")
	}
	if err := c.deps.Sessions.SetState(ctx, c.sess, session.StateFailed); err != nil {
		c.logger.Error().Err(err).Msg("Failed to mark session failed")
	}
}

func (c *Core) toolDescriptions() string {
	var b strings.Builder
	for _, t := range c.tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	return b.String()
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func remove(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
