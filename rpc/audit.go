package rpc

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// AuditStore persists one row per mutating RPC call so operators can
// reconstruct who asked the ledger to do what, and when.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore opens (or creates) the SQLite audit database at path.
func NewAuditStore(path string) (*AuditStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &AuditStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *AuditStore) init() error {
	schema := `CREATE TABLE IF NOT EXISTS audit_log (
        id TEXT PRIMARY KEY,
        occurred_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
        method TEXT NOT NULL,
        request_body BLOB,
        response_status INTEGER NOT NULL,
        error TEXT
    );`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends an audit row for a mutating call.
func (s *AuditStore) Record(ctx context.Context, method string, body []byte, status int, callErr error) error {
	errText := ""
	if callErr != nil {
		errText = callErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, method, request_body, response_status, error) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), method, body, status, errText,
	)
	return err
}

// Close releases the underlying database handle.
func (s *AuditStore) Close() error {
	return s.db.Close()
}
