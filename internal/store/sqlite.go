// SQLite-backed generation history ledger.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/ImagePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists generation records in an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path; missing parent directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("SQLite ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: store initialized", "path", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

// AddRecord inserts a generation record.
func (s *SQLiteStore) AddRecord(rec models.GenerationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO generation_records (id, session_id, operation, prompt, status, output_path, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, string(rec.Operation), rec.Prompt, string(rec.Status),
		rec.OutputPath, rec.Detail, rec.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore.AddRecord: insert failed", "error", err, "session", rec.SessionID)
		return fmt.Errorf("failed to insert generation record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecords returns the most recent records for the session, newest first.
// A limit of 0 returns all records.
func (s *SQLiteStore) GetRecords(sessionID string, limit int) ([]models.GenerationRecord, error) {
	query := `SELECT id, session_id, operation, prompt, status, output_path, detail, created_at
	          FROM generation_records WHERE session_id = ? ORDER BY created_at DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
