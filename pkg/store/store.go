package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Store provides sqlite-backed repositories for the runtime entities
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the database at path and initializes the schema.
// Use ":memory:" for an in-process database.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Store opened")

	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates database tables
func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS templates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS template_versions (
			id TEXT PRIMARY KEY,
			template_id TEXT NOT NULL REFERENCES templates(id),
			version INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 0,
			settings TEXT NOT NULL DEFAULT '{}',
			embedding TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(template_id, version)
		);
		CREATE INDEX IF NOT EXISTS idx_template_versions_template ON template_versions(template_id);

		CREATE TABLE IF NOT EXISTS tools (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			params_schema TEXT NOT NULL DEFAULT '{}',
			is_active INTEGER NOT NULL DEFAULT 1,
			embedding TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			template_version_id TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'ACTIVE',
			context TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS session_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			tool_call_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(session_id);

		CREATE TABLE IF NOT EXISTS agent_steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id),
			iteration INTEGER NOT NULL,
			step_type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_agent_steps_session ON agent_steps(session_id);

		CREATE TABLE IF NOT EXISTS agent_instances (
			id TEXT PRIMARY KEY,
			template_version_id TEXT NOT NULL,
			agent_kind TEXT NOT NULL,
			current_session_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return nil
}

// encodeVector serializes an embedding vector as a JSON array for
// vec_distance_cosine compatibility.
func encodeVector(vec []float32) (string, error) {
	data, err := json.Marshal(vec)
	if err != nil {
		return "", fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return string(data), nil
}

// placeholders builds a "?, ?, ?" fragment plus the matching args slice
func placeholders(names []string) (string, []interface{}) {
	marks := make([]string, len(names))
	args := make([]interface{}, len(names))
	for i, name := range names {
		marks[i] = "?"
		args[i] = name
	}
	return strings.Join(marks, ", "), args
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
