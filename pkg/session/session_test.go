package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farhan/arun/pkg/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := NewService(Config{Repo: st, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return svc, st
}

func TestService(t *testing.T) {
	ctx := context.Background()

	t.Run("should start a session in ACTIVE state with an empty store", func(t *testing.T) {
		svc, _ := newTestService(t)

		sess, msgs, err := svc.Start(ctx, "tv-1", map[string]any{"task": "research"})
		require.NoError(t, err)
		assert.Equal(t, StateActive, sess.State)
		assert.Equal(t, "tv-1", sess.TemplateVersionID)
		assert.Equal(t, 0, msgs.Len())
	})

	t.Run("should return ErrNotFound when resuming an unknown session", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, _, err := svc.Resume(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("should rebuild the exact message history on resume", func(t *testing.T) {
		svc, _ := newTestService(t)

		sess, msgs, err := svc.Start(ctx, "tv-1", nil)
		require.NoError(t, err)

		history := []ChatMessage{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "what is Go?"},
			{Role: "assistant", Content: "calling search", ToolCallID: "call-1"},
			{Role: "tool", Content: "a language", ToolCallID: "call-1"},
		}
		for _, msg := range history {
			require.NoError(t, svc.SaveMessage(ctx, sess, msgs, msg))
		}
		require.NoError(t, svc.SetState(ctx, sess, StateWaiting))

		resumed, restored, err := svc.Resume(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Equal(t, StateWaiting, resumed.State)
		assert.Equal(t, history, restored.All())
	})

	t.Run("should persist context data updates", func(t *testing.T) {
		svc, _ := newTestService(t)

		sess, _, err := svc.Start(ctx, "tv-1", nil)
		require.NoError(t, err)

		sess.Data = map[string]any{"iteration": 3}
		require.NoError(t, svc.UpdateContext(ctx, sess))

		resumed, _, err := svc.Resume(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.EqualValues(t, 3, resumed.Data["iteration"])
	})

	t.Run("should mark terminal states", func(t *testing.T) {
		svc, _ := newTestService(t)

		sess, _, err := svc.Start(ctx, "tv-1", nil)
		require.NoError(t, err)
		assert.False(t, sess.Terminal())

		require.NoError(t, svc.SetState(ctx, sess, StateCompleted))
		assert.True(t, sess.Terminal())
	})

	t.Run("should record agent steps", func(t *testing.T) {
		svc, st := newTestService(t)

		sess, _, err := svc.Start(ctx, "tv-1", nil)
		require.NoError(t, err)

		require.NoError(t, svc.RecordStep(ctx, sess.SessionID, 1, "tool_call", map[string]any{"tool": "echo"}))

		steps, err := st.ListAgentSteps(ctx, sess.SessionID)
		require.NoError(t, err)
		require.Len(t, steps, 1)
		assert.Equal(t, "tool_call", steps[0].StepType)
	})
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()

	newSweeper := func(t *testing.T, st *store.Store, dir string) *Sweeper {
		t.Helper()
		sw, err := NewSweeper(SweeperConfig{
			Repo:       st,
			Logger:     zerolog.Nop(),
			Schedule:   "0 3 * * *",
			MaxAge:     time.Nanosecond,
			ArchiveDir: dir,
		})
		require.NoError(t, err)
		return sw
	}

	t.Run("should archive terminal sessions to jsonl without deleting them", func(t *testing.T) {
		svc, st := newTestService(t)
		dir := t.TempDir()

		sess, msgs, err := svc.Start(ctx, "tv-1", nil)
		require.NoError(t, err)
		require.NoError(t, svc.SaveMessage(ctx, sess, msgs, ChatMessage{Role: "user", Content: "hi"}))
		require.NoError(t, svc.SetState(ctx, sess, StateCompleted))

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, newSweeper(t, st, dir).Sweep(ctx))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		// the row survives, flagged as archived
		rec, err := st.GetSession(ctx, sess.SessionID)
		require.NoError(t, err)
		assert.Contains(t, rec.Context, "archived_at")
	})

	t.Run("should never touch ACTIVE or WAITING sessions", func(t *testing.T) {
		svc, st := newTestService(t)
		dir := t.TempDir()

		active, _, err := svc.Start(ctx, "tv-1", nil)
		require.NoError(t, err)
		waiting, _, err := svc.Start(ctx, "tv-1", nil)
		require.NoError(t, err)
		require.NoError(t, svc.SetState(ctx, waiting, StateWaiting))

		time.Sleep(5 * time.Millisecond)
		require.NoError(t, newSweeper(t, st, dir).Sweep(ctx))

		for _, id := range []string{active.SessionID, waiting.SessionID} {
			rec, err := st.GetSession(ctx, id)
			require.NoError(t, err)
			assert.NotContains(t, rec.Context, "archived_at")
		}
	})

	t.Run("should not archive the same session twice", func(t *testing.T) {
		svc, st := newTestService(t)
		dir := t.TempDir()

		sess, _, err := svc.Start(ctx, "tv-1", nil)
		require.NoError(t, err)
		require.NoError(t, svc.SetState(ctx, sess, StateFailed))

		time.Sleep(5 * time.Millisecond)
		sw := newSweeper(t, st, dir)
		require.NoError(t, sw.Sweep(ctx))
		require.NoError(t, sw.Sweep(ctx))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
		require.NoError(t, err)
		assert.Equal(t, 1, countLines(data))
	})
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
