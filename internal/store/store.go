// Package store provides storage backends for the generation history ledger.
//
// It includes an in-memory store for ephemeral deployments plus SQLite and
// PostgreSQL backed stores for persistent history.
package store

import (
	"strings"
	"sync"

	"github.com/BTreeMap/ImagePipe/internal/models"
)

// Store records the outcome of generation requests.
type Store interface {
	AddRecord(rec models.GenerationRecord) error
	GetRecords(sessionID string, limit int) ([]models.GenerationRecord, error)
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres" or "sqlite3". Connection URLs
// and key=value connection strings select PostgreSQL, plain file paths select
// SQLite.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// InMemoryStore keeps generation records in memory. History is lost on
// restart.
type InMemoryStore struct {
	mu      sync.Mutex
	records []models.GenerationRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// AddRecord appends a generation record.
func (s *InMemoryStore) AddRecord(rec models.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// GetRecords returns the most recent records for the session, newest first.
// A limit of 0 returns all records.
func (s *InMemoryStore) GetRecords(sessionID string, limit int) ([]models.GenerationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GenerationRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].SessionID != sessionID {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
