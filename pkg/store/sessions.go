package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRecord is a persisted agent session
type SessionRecord struct {
	ID                string         `json:"id"`
	TemplateVersionID string         `json:"template_version_id"`
	State             string         `json:"state"`
	Context           map[string]any `json:"context"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// MessageRecord is one entry in a session's append-only message log
type MessageRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StepRecord is a persisted agent execution step
type StepRecord struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Iteration int            `json:"iteration"`
	StepType  string         `json:"step_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// CreateSession inserts a new session in the ACTIVE state
func (s *Store) CreateSession(ctx context.Context, templateVersionID string, contextData map[string]any) (*SessionRecord, error) {
	if contextData == nil {
		contextData = map[string]any{}
	}
	ctxJSON, err := json.Marshal(contextData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session context: %w", err)
	}

	rec := &SessionRecord{
		ID:                uuid.New().String(),
		TemplateVersionID: templateVersionID,
		State:             "ACTIVE",
		Context:           contextData,
		CreatedAt:         time.Now().UTC(),
		UpdatedAt:         time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, template_version_id, state, context, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TemplateVersionID, rec.State, string(ctxJSON), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	return rec, nil
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, template_version_id, state, context, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// UpdateSessionState sets the session state and bumps updated_at
func (s *Store) UpdateSessionState(ctx context.Context, id, state string) (*SessionRecord, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, updated_at = ? WHERE id = ?`,
		state, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update session state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetSession(ctx, id)
}

// UpdateSessionContext replaces the session context blob
func (s *Store) UpdateSessionContext(ctx context.Context, id string, contextData map[string]any) (*SessionRecord, error) {
	ctxJSON, err := json.Marshal(contextData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session context: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET context = ?, updated_at = ? WHERE id = ?`,
		string(ctxJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update session context: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetSession(ctx, id)
}

// AddMessage appends a message to the session log
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content, toolCallID string) (*MessageRecord, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO session_messages (session_id, role, content, tool_call_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, role, content, nullableString(toolCallID), now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get message id: %w", err)
	}

	return &MessageRecord{
		ID:         id,
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		ToolCallID: toolCallID,
		CreatedAt:  now,
	}, nil
}

// ListMessages returns the session's messages in insertion order
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_call_id, created_at
		 FROM session_messages WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*MessageRecord
	for rows.Next() {
		var m MessageRecord
		var toolCallID sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &toolCallID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.ToolCallID = toolCallID.String
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// AddAgentStep records one execution step for a session
func (s *Store) AddAgentStep(ctx context.Context, sessionID string, iteration int, stepType string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal step payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_steps (session_id, iteration, step_type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, iteration, stepType, string(payloadJSON), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent step: %w", err)
	}
	return nil
}

// ListAgentSteps returns the session's execution steps in order
func (s *Store) ListAgentSteps(ctx context.Context, sessionID string) ([]*StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, iteration, step_type, payload, created_at
		 FROM agent_steps WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent steps: %w", err)
	}
	defer rows.Close()

	var steps []*StepRecord
	for rows.Next() {
		var st StepRecord
		var payloadJSON string
		if err := rows.Scan(&st.ID, &st.SessionID, &st.Iteration, &st.StepType, &payloadJSON, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent step: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &st.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step payload: %w", err)
		}
		steps = append(steps, &st)
	}
	return steps, rows.Err()
}

// TerminalSessionsBefore lists COMPLETED and FAILED sessions last updated
// before the cutoff. Used by the retention sweeper.
func (s *Store) TerminalSessionsBefore(ctx context.Context, cutoff time.Time) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template_version_id, state, context, created_at, updated_at
		 FROM sessions
		 WHERE state IN ('COMPLETED', 'FAILED') AND updated_at < ?
		 ORDER BY updated_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query terminal sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*SessionRecord
	for rows.Next() {
		rec, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, rec)
	}
	return sessions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var ctxJSON string
	err := row.Scan(&rec.ID, &rec.TemplateVersionID, &rec.State, &ctxJSON, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(ctxJSON), &rec.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session context: %w", err)
	}
	return &rec, nil
}

func scanSessionRows(rows *sql.Rows) (*SessionRecord, error) {
	return scanSession(rows)
}
