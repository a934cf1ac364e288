// PostgreSQL-backed generation history ledger.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/BTreeMap/ImagePipe/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists generation records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("PostgreSQL ping failed: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: store initialized")
	return &PostgresStore{db: db}, nil
}

// AddRecord inserts a generation record.
func (s *PostgresStore) AddRecord(rec models.GenerationRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO generation_records (id, session_id, operation, prompt, status, output_path, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SessionID, string(rec.Operation), rec.Prompt, string(rec.Status),
		rec.OutputPath, rec.Detail, rec.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore.AddRecord: insert failed", "error", err, "session", rec.SessionID)
		return fmt.Errorf("failed to insert generation record %s: %w", rec.ID, err)
	}
	return nil
}

// GetRecords returns the most recent records for the session, newest first.
// A limit of 0 returns all records.
func (s *PostgresStore) GetRecords(sessionID string, limit int) ([]models.GenerationRecord, error) {
	query := `SELECT id, session_id, operation, prompt, status, output_path, detail, created_at
	          FROM generation_records WHERE session_id = $1 ORDER BY created_at DESC`
	args := []interface{}{sessionID}
	if limit > 0 {
		query += " LIMIT $2"
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
