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

// ToolRecord is a registered tool definition
type ToolRecord struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	ParamsSchema json.RawMessage `json:"params_schema"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ScoredTool pairs a tool with its similarity to a query. Score is nil when
// the tool has no stored embedding.
type ScoredTool struct {
	Tool  *ToolRecord
	Score *float64
}

// UpsertTool inserts or updates a tool definition by name
func (s *Store) UpsertTool(ctx context.Context, name, description string, paramsSchema json.RawMessage, active bool) (*ToolRecord, error) {
	if len(paramsSchema) == 0 {
		paramsSchema = json.RawMessage("{}")
	}

	rec := &ToolRecord{
		ID:           uuid.New().String(),
		Name:         name,
		Description:  description,
		ParamsSchema: paramsSchema,
		IsActive:     active,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tools (id, name, description, params_schema, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			params_schema = excluded.params_schema,
			is_active = excluded.is_active
	`, rec.ID, rec.Name, rec.Description, string(rec.ParamsSchema), rec.IsActive, rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tool: %w", err)
	}

	return s.GetToolByName(ctx, name)
}

// GetToolByName retrieves a tool by name
func (s *Store) GetToolByName(ctx context.Context, name string) (*ToolRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, params_schema, is_active, created_at
		 FROM tools WHERE name = ?`, name)
	return scanTool(row)
}

// SetToolEmbedding stores the tool's description embedding
func (s *Store) SetToolEmbedding(ctx context.Context, name string, vec []float32) error {
	encoded, err := encodeVector(vec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tools SET embedding = ? WHERE name = ?`, encoded, name)
	if err != nil {
		return fmt.Errorf("failed to set tool embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveTools lists active tools, optionally restricted to the given names.
// An empty names slice means no restriction.
func (s *Store) ActiveTools(ctx context.Context, names []string) ([]*ToolRecord, error) {
	query := `SELECT id, name, description, params_schema, is_active, created_at
	          FROM tools WHERE is_active = 1`
	var args []interface{}
	if len(names) > 0 {
		marks, nameArgs := placeholders(names)
		query += ` AND name IN (` + marks + `)`
		args = nameArgs
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	var tools []*ToolRecord
	for rows.Next() {
		rec, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		tools = append(tools, rec)
	}
	return tools, rows.Err()
}

// ToolsByNames resolves tool names to records, preserving the given order.
// Names with no matching record are skipped.
func (s *Store) ToolsByNames(ctx context.Context, names []string) ([]*ToolRecord, error) {
	if len(names) == 0 {
		return nil, nil
	}

	marks, args := placeholders(names)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, params_schema, is_active, created_at
		 FROM tools WHERE name IN (`+marks+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	byName := make(map[string]*ToolRecord, len(names))
	for rows.Next() {
		rec, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		byName[rec.Name] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*ToolRecord, 0, len(names))
	for _, name := range names {
		if rec, ok := byName[name]; ok {
			ordered = append(ordered, rec)
		}
	}
	return ordered, nil
}

// ScoreActiveTools ranks active tools against the query vector. Tools with a
// stored embedding get a cosine similarity score; tools without one are
// returned with a nil score so callers can keep them eligible. An empty names
// slice means no restriction.
func (s *Store) ScoreActiveTools(ctx context.Context, queryVec []float32, names []string) ([]*ScoredTool, error) {
	encoded, err := encodeVector(queryVec)
	if err != nil {
		return nil, err
	}

	scoredQuery := `
		SELECT id, name, description, params_schema, is_active, created_at,
		       vec_distance_cosine(embedding, ?) AS distance
		FROM tools WHERE is_active = 1 AND embedding IS NOT NULL`
	args := []interface{}{encoded}
	if len(names) > 0 {
		marks, nameArgs := placeholders(names)
		scoredQuery += ` AND name IN (` + marks + `)`
		args = append(args, nameArgs...)
	}
	scoredQuery += ` ORDER BY distance ASC`

	rows, err := s.db.QueryContext(ctx, scoredQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to score tools: %w", err)
	}

	var scored []*ScoredTool
	seen := make(map[string]bool)
	for rows.Next() {
		var rec ToolRecord
		var schema string
		var distance float64
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Description, &schema, &rec.IsActive, &rec.CreatedAt, &distance); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan scored tool: %w", err)
		}
		rec.ParamsSchema = json.RawMessage(schema)
		score := 1 - distance
		scored = append(scored, &ScoredTool{Tool: &rec, Score: &score})
		seen[rec.Name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Tools without embeddings stay eligible, unscored
	unscoredQuery := `
		SELECT id, name, description, params_schema, is_active, created_at
		FROM tools WHERE is_active = 1 AND embedding IS NULL`
	var unscoredArgs []interface{}
	if len(names) > 0 {
		marks, nameArgs := placeholders(names)
		unscoredQuery += ` AND name IN (` + marks + `)`
		unscoredArgs = nameArgs
	}
	unscoredQuery += ` ORDER BY name ASC`

	urows, err := s.db.QueryContext(ctx, unscoredQuery, unscoredArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to query unscored tools: %w", err)
	}
	defer urows.Close()

	for urows.Next() {
		rec, err := scanTool(urows)
		if err != nil {
			return nil, err
		}
		if seen[rec.Name] {
			continue
		}
		scored = append(scored, &ScoredTool{Tool: rec})
	}
	return scored, urows.Err()
}

func scanTool(row rowScanner) (*ToolRecord, error) {
	var rec ToolRecord
	var schema string
	err := row.Scan(&rec.ID, &rec.Name, &rec.Description, &schema, &rec.IsActive, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan tool: %w", err)
	}
	rec.ParamsSchema = json.RawMessage(schema)
	return &rec, nil
}
