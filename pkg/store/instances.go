package store

import (
	"context"
	"fmt"
	"time"
)

// RecordInstance persists a pool instance for operational visibility
func (s *Store) RecordInstance(ctx context.Context, id, templateVersionID, agentKind string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_instances (id, template_version_id, agent_kind, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`, id, templateVersionID, agentKind, now, now)
	if err != nil {
		return fmt.Errorf("failed to record instance: %w", err)
	}
	return nil
}

// UpdateInstanceSession records which session an instance is serving.
// An empty sessionID marks the instance idle.
func (s *Store) UpdateInstanceSession(ctx context.Context, id, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agent_instances SET current_session_id = ?, updated_at = ? WHERE id = ?`,
		nullableString(sessionID), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update instance session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
