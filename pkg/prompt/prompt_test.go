package prompt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Run("should substitute placeholders", func(t *testing.T) {
		out := Render("do {task} with {tools}", map[string]string{
			"task":  "research",
			"tools": "web_search",
		})
		assert.Equal(t, "do research with web_search", out)
	})

	t.Run("should leave unknown placeholders intact", func(t *testing.T) {
		out := Render("hello {name}", nil)
		assert.Equal(t, "hello {name}", out)
	})
}

func TestLoader(t *testing.T) {
	t.Run("should fall back to defaults without a dir", func(t *testing.T) {
		l, err := NewLoader("", zerolog.Nop())
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, defaults[NameSystem], l.Get(NameSystem))
		assert.Contains(t, l.Render(NameInitialUser, map[string]string{"task": "hi"}), "hi")
	})

	t.Run("should prefer override files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "system.txt"), []byte("custom {task}"), 0o644))

		l, err := NewLoader(dir, zerolog.Nop())
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, "custom {task}", l.Get(NameSystem))
		assert.Equal(t, defaults[NameInitialUser], l.Get(NameInitialUser))
	})

	t.Run("should pick up new override files", func(t *testing.T) {
		dir := t.TempDir()
		l, err := NewLoader(dir, zerolog.Nop())
		require.NoError(t, err)
		defer l.Close()

		require.NoError(t, os.WriteFile(filepath.Join(dir, "initial_user.txt"), []byte("override"), 0o644))

		require.Eventually(t, func() bool {
			return l.Get(NameInitialUser) == "override"
		}, 2*time.Second, 20*time.Millisecond)
	})

	t.Run("should drop overrides when the file is removed", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "system.txt")
		require.NoError(t, os.WriteFile(path, []byte("override"), 0o644))

		l, err := NewLoader(dir, zerolog.Nop())
		require.NoError(t, err)
		defer l.Close()
		require.Equal(t, "override", l.Get(NameSystem))

		require.NoError(t, os.Remove(path))

		require.Eventually(t, func() bool {
			return l.Get(NameSystem) == defaults[NameSystem]
		}, 2*time.Second, 20*time.Millisecond)
	})
}
