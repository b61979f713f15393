package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/farhan/arun/pkg/store"
)

// SweeperRepo is the slice of the store the retention sweeper needs
type SweeperRepo interface {
	TerminalSessionsBefore(ctx context.Context, cutoff time.Time) ([]*store.SessionRecord, error)
	ListMessages(ctx context.Context, sessionID string) ([]*store.MessageRecord, error)
	UpdateSessionContext(ctx context.Context, id string, contextData map[string]any) (*store.SessionRecord, error)
}

// SweeperConfig holds retention sweeper settings
type SweeperConfig struct {
	Repo       SweeperRepo
	Logger     zerolog.Logger
	Schedule   string // cron expression
	MaxAge     time.Duration
	ArchiveDir string
}

// Sweeper periodically archives COMPLETED and FAILED sessions older than
// MaxAge to JSONL files. Rows are never deleted, only flagged as archived;
// ACTIVE and WAITING sessions are never touched.
type Sweeper struct {
	repo       SweeperRepo
	logger     zerolog.Logger
	schedule   string
	maxAge     time.Duration
	archiveDir string

	cron *cron.Cron
}

// archiveEntry is one JSONL line in an archive file
type archiveEntry struct {
	Session  *store.SessionRecord   `json:"session"`
	Messages []*store.MessageRecord `json:"messages"`
}

// NewSweeper creates a retention sweeper
func NewSweeper(cfg SweeperConfig) (*Sweeper, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	if cfg.Schedule == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("max age must be positive")
	}
	if cfg.ArchiveDir == "" {
		return nil, fmt.Errorf("archive dir is required")
	}

	return &Sweeper{
		repo:       cfg.Repo,
		logger:     cfg.Logger,
		schedule:   cfg.Schedule,
		maxAge:     cfg.MaxAge,
		archiveDir: cfg.ArchiveDir,
	}, nil
}

// Start schedules the sweep
func (s *Sweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Retention sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info().
		Str("schedule", s.schedule).
		Dur("max_age", s.maxAge).
		Msg("Retention sweeper started")
	return nil
}

// Stop halts the schedule, waiting for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep archives every eligible session once
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-s.maxAge)
	sessions, err := s.repo.TerminalSessionsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list terminal sessions: %w", err)
	}

	if err := os.MkdirAll(s.archiveDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}

	archived := 0
	for _, sess := range sessions {
		if _, done := sess.Context["archived_at"]; done {
			continue
		}
		if err := s.archiveSession(ctx, sess); err != nil {
			s.logger.Error().Err(err).Str("session_id", sess.ID).Msg("Failed to archive session")
			continue
		}
		archived++
	}

	if archived > 0 {
		s.logger.Info().Int("archived", archived).Msg("Retention sweep completed")
	}
	return nil
}

func (s *Sweeper) archiveSession(ctx context.Context, sess *store.SessionRecord) error {
	messages, err := s.repo.ListMessages(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	line, err := json.Marshal(archiveEntry{Session: sess, Messages: messages})
	if err != nil {
		return fmt.Errorf("failed to marshal archive entry: %w", err)
	}

	path := filepath.Join(s.archiveDir, "sessions-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open archive file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write archive entry: %w", err)
	}

	sess.Context["archived_at"] = time.Now().UTC().Format(time.RFC3339)
	if _, err := s.repo.UpdateSessionContext(ctx, sess.ID, sess.Context); err != nil {
		return fmt.Errorf("failed to flag session archived: %w", err)
	}
	return nil
}
