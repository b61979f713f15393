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

// TemplateRecord is a named agent template
type TemplateRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// TemplateVersionRecord is one immutable version of a template's settings
type TemplateVersionRecord struct {
	ID         string          `json:"id"`
	TemplateID string          `json:"template_id"`
	Version    int             `json:"version"`
	IsActive   bool            `json:"is_active"`
	Settings   json.RawMessage `json:"settings"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ScoredVersion pairs an active template version with its similarity to a query
type ScoredVersion struct {
	Template *TemplateRecord
	Version  *TemplateVersionRecord
	Score    float64
}

// CreateTemplate inserts a new template
func (s *Store) CreateTemplate(ctx context.Context, name, description string) (*TemplateRecord, error) {
	rec := &TemplateRecord{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.Description, rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert template: %w", err)
	}
	return rec, nil
}

// GetTemplate retrieves a template by ID
func (s *Store) GetTemplate(ctx context.Context, id string) (*TemplateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM templates WHERE id = ?`, id)
	return scanTemplate(row)
}

// GetTemplateByName retrieves a template by its unique name
func (s *Store) GetTemplateByName(ctx context.Context, name string) (*TemplateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM templates WHERE name = ?`, name)
	return scanTemplate(row)
}

// CreateTemplateVersion inserts a new version for a template. The version
// number is assigned as max(existing)+1. When activate is true the new
// version becomes the template's single active version.
func (s *Store) CreateTemplateVersion(ctx context.Context, templateID string, settings json.RawMessage, activate bool) (*TemplateVersionRecord, error) {
	if len(settings) == 0 {
		settings = json.RawMessage("{}")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM template_versions WHERE template_id = ?`,
		templateID).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to compute next version: %w", err)
	}

	rec := &TemplateVersionRecord{
		ID:         uuid.New().String(),
		TemplateID: templateID,
		Version:    next,
		IsActive:   activate,
		Settings:   settings,
		CreatedAt:  time.Now().UTC(),
	}

	if activate {
		if _, err := tx.ExecContext(ctx,
			`UPDATE template_versions SET is_active = 0 WHERE template_id = ?`, templateID); err != nil {
			return nil, fmt.Errorf("failed to deactivate versions: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO template_versions (id, template_id, version, is_active, settings, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TemplateID, rec.Version, rec.IsActive, string(rec.Settings), rec.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to insert template version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit template version: %w", err)
	}
	return rec, nil
}

// ActivateTemplateVersion makes the given version the single active version
// of its template
func (s *Store) ActivateTemplateVersion(ctx context.Context, versionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var templateID string
	err = tx.QueryRowContext(ctx,
		`SELECT template_id FROM template_versions WHERE id = ?`, versionID).Scan(&templateID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up template version: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE template_versions SET is_active = 0 WHERE template_id = ?`, templateID); err != nil {
		return fmt.Errorf("failed to deactivate versions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE template_versions SET is_active = 1 WHERE id = ?`, versionID); err != nil {
		return fmt.Errorf("failed to activate version: %w", err)
	}

	return tx.Commit()
}

// GetTemplateVersion retrieves a version by ID
func (s *Store) GetTemplateVersion(ctx context.Context, id string) (*TemplateVersionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, template_id, version, is_active, settings, created_at
		 FROM template_versions WHERE id = ?`, id)
	return scanTemplateVersion(row)
}

// ActiveTemplateVersion retrieves the active version of a template
func (s *Store) ActiveTemplateVersion(ctx context.Context, templateID string) (*TemplateVersionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, template_id, version, is_active, settings, created_at
		 FROM template_versions WHERE template_id = ? AND is_active = 1`, templateID)
	return scanTemplateVersion(row)
}

// SetTemplateVersionEmbedding stores the version's description embedding
func (s *Store) SetTemplateVersionEmbedding(ctx context.Context, versionID string, vec []float32) error {
	encoded, err := encodeVector(vec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE template_versions SET embedding = ? WHERE id = ?`, encoded, versionID)
	if err != nil {
		return fmt.Errorf("failed to set version embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ScoreActiveTemplateVersions ranks active, embedded template versions by
// cosine similarity to the query vector, best first.
func (s *Store) ScoreActiveTemplateVersions(ctx context.Context, queryVec []float32) ([]*ScoredVersion, error) {
	encoded, err := encodeVector(queryVec)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.description, t.created_at,
		       v.id, v.template_id, v.version, v.is_active, v.settings, v.created_at,
		       vec_distance_cosine(v.embedding, ?) AS distance
		FROM template_versions v
		JOIN templates t ON t.id = v.template_id
		WHERE v.is_active = 1 AND v.embedding IS NOT NULL
		ORDER BY distance ASC
	`, encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to score template versions: %w", err)
	}
	defer rows.Close()

	var scored []*ScoredVersion
	for rows.Next() {
		var t TemplateRecord
		var v TemplateVersionRecord
		var settings string
		var distance float64
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Description, &t.CreatedAt,
			&v.ID, &v.TemplateID, &v.Version, &v.IsActive, &settings, &v.CreatedAt,
			&distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scored version: %w", err)
		}
		v.Settings = json.RawMessage(settings)
		scored = append(scored, &ScoredVersion{
			Template: &t,
			Version:  &v,
			Score:    1 - distance,
		})
	}
	return scored, rows.Err()
}

func scanTemplate(row rowScanner) (*TemplateRecord, error) {
	var rec TemplateRecord
	err := row.Scan(&rec.ID, &rec.Name, &rec.Description, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}
	return &rec, nil
}

func scanTemplateVersion(row rowScanner) (*TemplateVersionRecord, error) {
	var rec TemplateVersionRecord
	var settings string
	err := row.Scan(&rec.ID, &rec.TemplateID, &rec.Version, &rec.IsActive, &settings, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template version: %w", err)
	}
	rec.Settings = json.RawMessage(settings)
	return &rec, nil
}
