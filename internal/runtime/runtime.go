package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/farhan/arun/internal/config"
	"github.com/farhan/arun/internal/logger"
	"github.com/farhan/arun/internal/observability"
	"github.com/farhan/arun/internal/tracing"
	"github.com/farhan/arun/pkg/agent"
	"github.com/farhan/arun/pkg/directory"
	"github.com/farhan/arun/pkg/embedding"
	"github.com/farhan/arun/pkg/prompt"
	"github.com/farhan/arun/pkg/router"
	"github.com/farhan/arun/pkg/session"
	"github.com/farhan/arun/pkg/store"
	"github.com/farhan/arun/pkg/template"
	"github.com/farhan/arun/pkg/tool"
	"github.com/farhan/arun/pkg/toolsearch"
)

// Runtime assembles the full agent runtime from configuration
type Runtime struct {
	config *config.Config
	logger *logger.Logger

	store     *store.Store
	templates *template.Service
	registry  *tool.Registry
	search    *toolsearch.Service
	sessions  *session.Service
	directory *directory.Service
	prompts   *prompt.Loader
	router    *router.Router
	sweeper   *session.Sweeper

	tracingEnabled bool
}

// New builds the runtime in dependency order. Tracing failures are logged
// and skipped, everything else is fatal.
func New(cfg *config.Config, log *logger.Logger) (*Runtime, error) {
	observability.EnsureRegistered()

	r := &Runtime{
		config: cfg,
		logger: log,
	}

	zl := log.Get()
	if err := tracing.InitOpenTelemetry("arun"); err != nil {
		zl.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
	} else {
		r.tracingEnabled = true
	}

	if err := r.initialize(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Runtime) initialize() error {
	zl := r.logger.Get()

	st, err := store.Open(r.config.Database.Path, zl)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	r.store = st
	zl.Info().Str("path", r.config.Database.Path).Msg("Store opened")

	templates, err := template.NewService(template.Config{
		Store:  st,
		Logger: zl,
		Defaults: template.Defaults{
			Model:         r.config.Runtime.DefaultModel,
			Temperature:   r.config.Runtime.Temperature,
			MaxTokens:     r.config.Runtime.MaxTokens,
			MaxIterations: r.config.Runtime.MaxIterations,
			BaseClass:     r.config.Runtime.DefaultAgentKind,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create template service: %w", err)
	}
	r.templates = templates

	r.registry = tool.NewRegistry(zl)
	tool.RegisterBuiltins(r.registry)
	zl.Info().Strs("tools", r.registry.Names()).Msg("Tool registry initialized")

	embedder := embedding.NewOpenAIEmbedder(
		os.Getenv(r.config.Embedding.APIKeyRef),
		r.config.Embedding.Model,
	)

	search, err := toolsearch.NewService(toolsearch.Config{
		Repo:     st,
		Embedder: embedder,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create tool search service: %w", err)
	}
	r.search = search

	sessions, err := session.NewService(session.Config{Repo: st, Logger: zl})
	if err != nil {
		return fmt.Errorf("failed to create session service: %w", err)
	}
	r.sessions = sessions

	dir, err := directory.NewService(directory.Config{
		Repo:     st,
		Embedder: embedder,
		Logger:   zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create directory service: %w", err)
	}
	r.directory = dir

	prompts, err := prompt.NewLoader(r.config.PromptsDir, zl)
	if err != nil {
		return fmt.Errorf("failed to create prompt loader: %w", err)
	}
	r.prompts = prompts

	rt, err := router.New(router.Config{
		Templates: templates,
		Directory: dir,
		Kinds:     agent.NewKindRegistry(r.config.Runtime.DefaultAgentKind, zl),
		Sessions:  st,
		AgentDeps: agent.Deps{
			Sessions: sessions,
			Search:   search,
			Registry: r.registry,
			Prompts:  prompts,
			Logger:   zl,
		},
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create router: %w", err)
	}
	r.router = rt

	if r.config.Retention.Enabled {
		sweeper, err := session.NewSweeper(session.SweeperConfig{
			Repo:       st,
			Logger:     zl,
			Schedule:   r.config.Retention.Schedule,
			MaxAge:     time.Duration(r.config.Retention.MaxAgeDays) * 24 * time.Hour,
			ArchiveDir: r.config.Retention.ArchiveDir,
		})
		if err != nil {
			return fmt.Errorf("failed to create retention sweeper: %w", err)
		}
		r.sweeper = sweeper
	}

	return nil
}

// Start begins background work (currently the retention sweeper)
func (r *Runtime) Start() error {
	if r.sweeper != nil {
		if err := r.sweeper.Start(); err != nil {
			return fmt.Errorf("failed to start retention sweeper: %w", err)
		}
	}
	zl := r.logger.Get()
	zl.Info().Msg("Runtime started")
	return nil
}

// Route runs one task through the router
func (r *Runtime) Route(ctx context.Context, params router.RouteParams) (*router.RouteResult, error) {
	return r.router.Route(tracing.NewRequestContext(ctx), params)
}

// Templates exposes the template service for provisioning
func (r *Runtime) Templates() *template.Service { return r.templates }

// Directory exposes the directory service for indexing and lookup
func (r *Runtime) Directory() *directory.Service { return r.directory }

// Registry exposes the tool registry so callers can add external tools
func (r *Runtime) Registry() *tool.Registry { return r.registry }

// Close stops background work and releases resources
func (r *Runtime) Close() {
	if r.sweeper != nil {
		r.sweeper.Stop()
	}
	if r.prompts != nil {
		r.prompts.Close()
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			zl := r.logger.Get()
			zl.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if r.tracingEnabled {
		_ = tracing.ShutdownOpenTelemetry(context.Background())
		r.tracingEnabled = false
	}
}
