package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"sheet-sync-service/internal/config"
)

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conflicts (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	record_id TEXT NOT NULL,
	first_data TEXT,
	last_data TEXT,
	detected_at TIMESTAMP NOT NULL,
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	resolution_strategy TEXT,
	resolved_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS sync_events (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	operation TEXT NOT NULL,
	record_id TEXT,
	user_id TEXT,
	session_id TEXT,
	payload TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP,
	events_broadcast INTEGER NOT NULL DEFAULT 0,
	conflicts_detected INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(resolved);
CREATE INDEX IF NOT EXISTS idx_events_table ON sync_events(table_name, created_at);
`

func NewSQLiteStore(cfg config.StateStorage) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping state db: %w", err)
	}

	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent appenders.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// execTx runs fn inside a transaction.
func (s *SQLiteStore) execTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %v, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpsertConflict(ctx context.Context, conflict *ConflictRecord) error {
	query := `INSERT INTO conflicts (id, table_name, record_id, first_data, last_data, detected_at, resolved)
			  VALUES (?, ?, ?, ?, ?, ?, FALSE)
			  ON CONFLICT(id) DO UPDATE SET
			  first_data = excluded.first_data,
			  last_data = excluded.last_data`

	_, err := s.db.ExecContext(ctx, query,
		conflict.ID,
		conflict.TableName,
		conflict.RecordID,
		string(conflict.FirstData),
		string(conflict.LastData),
		conflict.DetectedAt,
	)

	return err
}

func (s *SQLiteStore) MarkConflictResolved(ctx context.Context, id string, strategy string) error {
	query := `UPDATE conflicts SET resolved = TRUE, resolution_strategy = ?, resolved_at = CURRENT_TIMESTAMP WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query, strategy, id)
	return err
}

func (s *SQLiteStore) ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*ConflictRecord, error) {
	query := `SELECT id, table_name, record_id, first_data, last_data, detected_at, resolved, resolution_strategy, resolved_at
			  FROM conflicts WHERE resolved = ? ORDER BY detected_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, resolved, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*ConflictRecord
	for rows.Next() {
		var c ConflictRecord
		var first, last sql.NullString
		err := rows.Scan(
			&c.ID,
			&c.TableName,
			&c.RecordID,
			&first,
			&last,
			&c.DetectedAt,
			&c.Resolved,
			&c.ResolutionStrategy,
			&c.ResolvedAt,
		)
		if err != nil {
			return nil, err
		}
		c.FirstData = []byte(first.String)
		c.LastData = []byte(last.String)
		conflicts = append(conflicts, &c)
	}

	return conflicts, rows.Err()
}

func (s *SQLiteStore) AppendEvents(ctx context.Context, events []*EventRecord) error {
	if len(events) == 0 {
		return nil
	}

	return s.execTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT OR IGNORE INTO sync_events (id, table_name, operation, record_id, user_id, session_id, payload, created_at)
				  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range events {
			if _, err := stmt.ExecContext(ctx,
				e.ID,
				e.TableName,
				e.Operation,
				e.RecordID,
				e.UserID,
				e.SessionID,
				string(e.Payload),
				e.CreatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `INSERT INTO sync_runs (id, started_at, status)
			  VALUES (?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, run.ID, run.StartedAt, run.Status)
	return err
}

func (s *SQLiteStore) FinishSyncRun(ctx context.Context, run *SyncRun) error {
	query := `UPDATE sync_runs SET completed_at = ?, events_broadcast = ?, conflicts_detected = ?, status = ?, error_message = ? WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		run.CompletedAt,
		run.EventsBroadcast,
		run.ConflictsDetected,
		run.Status,
		run.ErrorMessage,
		run.ID,
	)

	return err
}
