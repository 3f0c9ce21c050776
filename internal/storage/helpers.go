package storage

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// pgxScanner is satisfied by both pgx.Row and pgx.Rows, letting scan helpers
// work for single-row and multi-row queries alike.
type pgxScanner interface {
	Scan(dest ...any) error
}

// BeginTx starts a transaction on the pool. Multi-write operations (the
// Assembly Engine's session-create-plus-exposure-increment, the Scoring
// Orchestrator's result-plus-audit-log) take the resulting pgx.Tx directly
// so callers outside this package can compose their own transaction
// boundary against the same exported pgx.Tx type.
func (db *DB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.pool.Begin(ctx)
}
