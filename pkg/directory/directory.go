package directory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/farhan/arun/pkg/store"
)

// Entry is a template version the directory can route tasks to
type Entry struct {
	TemplateID   string
	TemplateName string
	Description  string
	VersionID    string
	Version      int
	Score        float64
}

// Embedder turns text into a vector for similarity scoring
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Repo is the slice of the store the directory needs
type Repo interface {
	ScoreActiveTemplateVersions(ctx context.Context, queryVec []float32) ([]*store.ScoredVersion, error)
	SetTemplateVersionEmbedding(ctx context.Context, versionID string, vec []float32) error
	GetTemplateByName(ctx context.Context, name string) (*store.TemplateRecord, error)
	ActiveTemplateVersion(ctx context.Context, templateID string) (*store.TemplateVersionRecord, error)
}

// Config holds directory dependencies
type Config struct {
	Repo     Repo
	Embedder Embedder
	Logger   zerolog.Logger
}

// Service finds the template best suited to a task by comparing the task
// text against indexed template descriptions.
type Service struct {
	repo     Repo
	embedder Embedder
	logger   zerolog.Logger
}

// NewService creates a directory service
func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Service{
		repo:     cfg.Repo,
		embedder: cfg.Embedder,
		logger:   cfg.Logger,
	}, nil
}

// Index computes and stores the embedding the version is searched by
func (s *Service) Index(ctx context.Context, versionID, text string) error {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("failed to embed description: %w", err)
	}
	if err := s.repo.SetTemplateVersionEmbedding(ctx, versionID, vec); err != nil {
		return fmt.Errorf("failed to store version embedding: %w", err)
	}
	s.logger.Debug().Str("version_id", versionID).Msg("Template version indexed")
	return nil
}

// Search returns up to topK active template versions ranked by similarity to
// the query, best first. Versions without an embedding are not searchable.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]*Entry, error) {
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	scored, err := s.repo.ScoreActiveTemplateVersions(ctx, queryVec)
	if err != nil {
		return nil, fmt.Errorf("failed to score templates: %w", err)
	}

	if len(scored) > topK {
		scored = scored[:topK]
	}

	entries := make([]*Entry, len(scored))
	for i, sv := range scored {
		entries[i] = &Entry{
			TemplateID:   sv.Template.ID,
			TemplateName: sv.Template.Name,
			Description:  sv.Template.Description,
			VersionID:    sv.Version.ID,
			Version:      sv.Version.Version,
			Score:        sv.Score,
		}
	}
	return entries, nil
}

// Lookup resolves a template name to its active version entry
func (s *Service) Lookup(ctx context.Context, templateName string) (*Entry, error) {
	tmpl, err := s.repo.GetTemplateByName(ctx, templateName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up template: %w", err)
	}
	version, err := s.repo.ActiveTemplateVersion(ctx, tmpl.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active version: %w", err)
	}
	return &Entry{
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		Description:  tmpl.Description,
		VersionID:    version.ID,
		Version:      version.Version,
	}, nil
}
