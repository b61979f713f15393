package runtime

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/farhan/arun/internal/config"
	"github.com/farhan/arun/internal/logger"
)

func TestRuntimeLifecycle(t *testing.T) {
	t.Run("should assemble, start, and close from a default config", func(t *testing.T) {
		dir := t.TempDir()

		cfg := config.DefaultConfig()
		cfg.Database.Path = filepath.Join(dir, "arun.db")
		cfg.Retention.Enabled = true
		cfg.Retention.ArchiveDir = filepath.Join(dir, "archive")

		log, err := logger.New(logger.Config{Level: "error"})
		require.NoError(t, err)
		defer log.Close()

		rt, err := New(cfg, log)
		require.NoError(t, err)
		require.NotNil(t, rt.Templates())
		require.NotNil(t, rt.Directory())
		require.NotNil(t, rt.Registry())

		require.NoError(t, rt.Start())
		rt.Close()
	})

	t.Run("should skip the sweeper when retention is disabled", func(t *testing.T) {
		dir := t.TempDir()

		cfg := config.DefaultConfig()
		cfg.Database.Path = filepath.Join(dir, "arun.db")

		log, err := logger.New(logger.Config{Level: "error"})
		require.NoError(t, err)
		defer log.Close()

		rt, err := New(cfg, log)
		require.NoError(t, err)
		require.Nil(t, rt.sweeper)

		require.NoError(t, rt.Start())
		rt.Close()
	})
}
