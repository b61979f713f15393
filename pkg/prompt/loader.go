package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Loader serves prompt templates, preferring .txt override files from a
// directory over the built-in defaults. Override files are hot-reloaded on
// change so prompt tuning does not require a restart.
type Loader struct {
	dir    string
	logger zerolog.Logger

	mu        sync.RWMutex
	overrides map[string]string

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// NewLoader creates a loader. An empty dir disables overrides and watching.
func NewLoader(dir string, logger zerolog.Logger) (*Loader, error) {
	l := &Loader{
		dir:       dir,
		logger:    logger,
		overrides: make(map[string]string),
		done:      make(chan struct{}),
	}

	if dir == "" {
		return l, nil
	}

	if err := l.loadAll(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch prompts dir: %w", err)
	}
	l.watcher = watcher

	go l.eventLoop()

	logger.Info().Str("dir", dir).Msg("Prompt loader watching for overrides")
	return l, nil
}

// Get returns the template for a name, override first, then default
func (l *Loader) Get(name string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if tmpl, ok := l.overrides[name]; ok {
		return tmpl
	}
	return defaults[name]
}

// Render loads a template by name and substitutes variables
func (l *Loader) Render(name string, vars map[string]string) string {
	return Render(l.Get(name), vars)
}

// Close stops the file watcher
func (l *Loader) Close() error {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func (l *Loader) loadAll() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("failed to read prompts dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		l.loadFile(filepath.Join(l.dir, entry.Name()))
	}
	return nil
}

func (l *Loader) loadFile(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		l.logger.Warn().Err(err).Str("path", path).Msg("Failed to read prompt override")
		return
	}

	l.mu.Lock()
	l.overrides[name] = string(data)
	l.mu.Unlock()

	l.logger.Debug().Str("name", name).Msg("Prompt override loaded")
}

func (l *Loader) removeFile(path string) {
	name := strings.TrimSuffix(filepath.Base(path), ".txt")

	l.mu.Lock()
	delete(l.overrides, name)
	l.mu.Unlock()

	l.logger.Debug().Str("name", name).Msg("Prompt override removed")
}

func (l *Loader) eventLoop() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".txt") {
				continue
			}
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create,
				event.Op&fsnotify.Write == fsnotify.Write:
				l.loadFile(event.Name)
			case event.Op&fsnotify.Remove == fsnotify.Remove,
				event.Op&fsnotify.Rename == fsnotify.Rename:
				l.removeFile(event.Name)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Prompt watcher error")

		case <-l.done:
			return
		}
	}
}
