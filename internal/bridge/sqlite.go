package bridge

import (
	"context"
	"database/sql"
	"errors"
)

// SQLite stores slots in the handoff_slots table, so a hand-off survives a
// server restart between leaving and coming back.
type SQLite struct{ db *sql.DB }

// NewSQLite wraps a migrated database.
func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

func (s *SQLite) Put(ctx context.Context, key string, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO handoff_slots (key, payload, updated_at)
        VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
        ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		key, payload,
	)
	return err
}

// Take selects and deletes inside one transaction.
func (s *SQLite) Take(ctx context.Context, key string) ([]byte, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx, `SELECT payload FROM handoff_slots WHERE key=?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM handoff_slots WHERE key=?`, key); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM handoff_slots WHERE key=?`, key)
	return err
}
