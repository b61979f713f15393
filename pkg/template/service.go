package template

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/farhan/arun/pkg/store"
)

// Defaults fill in settings a template version leaves empty
type Defaults struct {
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxIterations int
	BaseClass     string
}

// Config holds template service dependencies
type Config struct {
	Store    *store.Store
	Logger   zerolog.Logger
	Defaults Defaults
}

// Service manages templates and resolves runtime configurations
type Service struct {
	store    *store.Store
	logger   zerolog.Logger
	defaults Defaults
}

// NewService creates a template service
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Service{
		store:    cfg.Store,
		logger:   cfg.Logger,
		defaults: cfg.Defaults,
	}, nil
}

// Create creates a new template
func (s *Service) Create(ctx context.Context, name, description string) (*store.TemplateRecord, error) {
	rec, err := s.store.CreateTemplate(ctx, name, description)
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	s.logger.Info().Str("template_id", rec.ID).Str("name", name).Msg("Template created")
	return rec, nil
}

// CreateVersion snapshots settings as a new version. When activate is true
// the new version replaces the template's active version.
func (s *Service) CreateVersion(ctx context.Context, templateID string, settings Settings, activate bool) (*store.TemplateVersionRecord, error) {
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings: %w", err)
	}
	rec, err := s.store.CreateTemplateVersion(ctx, templateID, raw, activate)
	if err != nil {
		return nil, fmt.Errorf("failed to create template version: %w", err)
	}
	s.logger.Info().
		Str("template_id", templateID).
		Str("version_id", rec.ID).
		Int("version", rec.Version).
		Bool("active", activate).
		Msg("Template version created")
	return rec, nil
}

// Activate makes the given version the template's single active version
func (s *Service) Activate(ctx context.Context, versionID string) error {
	if err := s.store.ActivateTemplateVersion(ctx, versionID); err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}
	s.logger.Info().Str("version_id", versionID).Msg("Template version activated")
	return nil
}

// RuntimeConfigForVersion resolves a version's settings into a complete
// runtime configuration, applying service defaults to empty fields.
func (s *Service) RuntimeConfigForVersion(ctx context.Context, versionID string) (*RuntimeConfig, error) {
	version, err := s.store.GetTemplateVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template version: %w", err)
	}

	tmpl, err := s.store.GetTemplate(ctx, version.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(version.Settings, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse template settings: %w", err)
	}

	rc := &RuntimeConfig{
		TemplateID:   tmpl.ID,
		TemplateName: tmpl.Name,
		VersionID:    version.ID,
		Version:      version.Version,
		BaseClass:    settings.BaseClass,
		LLM:          settings.LLM,
		Prompt:       settings.Prompt,
		Execution:    settings.Execution,
		ToolPolicy:   settings.ToolPolicy,
		Tools:        settings.Tools,
		Rules:        settings.Rules,
	}

	if rc.BaseClass == "" {
		rc.BaseClass = s.defaults.BaseClass
	}
	if rc.LLM.Model == "" {
		rc.LLM.Model = s.defaults.Model
	}
	if rc.LLM.Temperature == 0 {
		rc.LLM.Temperature = s.defaults.Temperature
	}
	if rc.LLM.MaxTokens == 0 {
		rc.LLM.MaxTokens = s.defaults.MaxTokens
	}
	if rc.Execution.MaxIterations == 0 {
		rc.Execution.MaxIterations = s.defaults.MaxIterations
	}

	return rc, nil
}
