package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/farhan/arun/internal/observability"
	"github.com/farhan/arun/pkg/store"
)

// Repo is the slice of the store the session service needs
type Repo interface {
	CreateSession(ctx context.Context, templateVersionID string, contextData map[string]any) (*store.SessionRecord, error)
	GetSession(ctx context.Context, id string) (*store.SessionRecord, error)
	UpdateSessionState(ctx context.Context, id, state string) (*store.SessionRecord, error)
	UpdateSessionContext(ctx context.Context, id string, contextData map[string]any) (*store.SessionRecord, error)
	AddMessage(ctx context.Context, sessionID, role, content, toolCallID string) (*store.MessageRecord, error)
	ListMessages(ctx context.Context, sessionID string) ([]*store.MessageRecord, error)
	AddAgentStep(ctx context.Context, sessionID string, iteration int, stepType string, payload map[string]any) error
}

// Config holds session service dependencies
type Config struct {
	Repo   Repo
	Logger zerolog.Logger
}

// Service persists sessions and their message logs. It assumes one active
// writer per session; concurrent writers on the same session are a caller
// bug.
type Service struct {
	repo   Repo
	logger zerolog.Logger
}

// NewService creates a session service
func NewService(cfg Config) (*Service, error) {
	if cfg.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	observability.EnsureRegistered()
	return &Service{
		repo:   cfg.Repo,
		logger: cfg.Logger,
	}, nil
}

// Start creates a new ACTIVE session
func (s *Service) Start(ctx context.Context, templateVersionID string, data map[string]any) (*Context, *MessageStore, error) {
	rec, err := s.repo.CreateSession(ctx, templateVersionID, data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}

	observability.RecordSessionStarted()
	s.logger.Info().
		Str("session_id", rec.ID).
		Str("template_version_id", templateVersionID).
		Msg("Session started")

	return &Context{
		SessionID:         rec.ID,
		TemplateVersionID: rec.TemplateVersionID,
		State:             rec.State,
		Data:              rec.Context,
	}, &MessageStore{}, nil
}

// Resume loads an existing session and rebuilds its message store in
// creation order. Returns store.ErrNotFound for unknown ids.
func (s *Service) Resume(ctx context.Context, id string) (*Context, *MessageStore, error) {
	rec, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.repo.ListMessages(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load messages: %w", err)
	}

	msgStore := &MessageStore{}
	for _, row := range rows {
		msgStore.Add(ChatMessage{
			Role:       row.Role,
			Content:    row.Content,
			ToolCallID: row.ToolCallID,
		})
	}

	observability.RecordSessionResumed()
	s.logger.Info().
		Str("session_id", id).
		Str("state", rec.State).
		Int("messages", msgStore.Len()).
		Msg("Session resumed")

	return &Context{
		SessionID:         rec.ID,
		TemplateVersionID: rec.TemplateVersionID,
		State:             rec.State,
		Data:              rec.Context,
	}, msgStore, nil
}

// SaveMessage appends a message to both the persistent log and the in-memory
// store
func (s *Service) SaveMessage(ctx context.Context, sess *Context, msgStore *MessageStore, msg ChatMessage) error {
	start := time.Now()
	if _, err := s.repo.AddMessage(ctx, sess.SessionID, msg.Role, msg.Content, msg.ToolCallID); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	msgStore.Add(msg)
	observability.RecordMessageSave(time.Since(start))
	return nil
}

// UpdateContext persists the session's data map
func (s *Service) UpdateContext(ctx context.Context, sess *Context) error {
	rec, err := s.repo.UpdateSessionContext(ctx, sess.SessionID, sess.Data)
	if err != nil {
		return fmt.Errorf("failed to update session context: %w", err)
	}
	sess.Data = rec.Context
	return nil
}

// SetState transitions the session and records the change
func (s *Service) SetState(ctx context.Context, sess *Context, state string) error {
	if _, err := s.repo.UpdateSessionState(ctx, sess.SessionID, state); err != nil {
		return fmt.Errorf("failed to set session state: %w", err)
	}
	sess.State = state
	observability.RecordSessionState(state)
	s.logger.Debug().
		Str("session_id", sess.SessionID).
		Str("state", state).
		Msg("Session state changed")
	return nil
}

// History returns the persisted messages in order
func (s *Service) History(ctx context.Context, sessionID string) ([]ChatMessage, error) {
	rows, err := s.repo.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	msgs := make([]ChatMessage, len(rows))
	for i, row := range rows {
		msgs[i] = ChatMessage{
			Role:       row.Role,
			Content:    row.Content,
			ToolCallID: row.ToolCallID,
		}
	}
	return msgs, nil
}

// RecordStep persists one agent execution step for later inspection
func (s *Service) RecordStep(ctx context.Context, sessionID string, iteration int, stepType string, payload map[string]any) error {
	if err := s.repo.AddAgentStep(ctx, sessionID, iteration, stepType, payload); err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}
