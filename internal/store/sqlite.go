package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// MarkProcessed inserts or replaces a processed-message entry.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, entry ProcessedEntry) error {
	processedAt := entry.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO processed (uid, message_id, subject, processed_at)
		VALUES (?, ?, ?, ?)`,
		entry.UID, entry.MessageID, entry.Subject, processedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("marking UID %d processed: %w", entry.UID, err)
	}

	return nil
}

// IsProcessed reports whether the UID is in the processed set.
func (s *SQLiteStore) IsProcessed(ctx context.Context, uid uint32) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM processed WHERE uid = ?", uid,
	)
	if err != nil {
		return false, fmt.Errorf("checking UID %d: %w", uid, err)
	}
	return count > 0, nil
}

// ProcessedUIDs returns the full processed set as a lookup map.
func (s *SQLiteStore) ProcessedUIDs(ctx context.Context) (map[uint32]bool, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT uid FROM processed")
	if err != nil {
		return nil, fmt.Errorf("querying processed set: %w", err)
	}
	defer rows.Close()

	uids := make(map[uint32]bool)
	for rows.Next() {
		var uid uint32
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scanning processed row: %w", err)
		}
		uids[uid] = true
	}

	return uids, rows.Err()
}

// PruneProcessed removes processed entries older than the cutoff and
// returns the number removed. This bounds the set's growth over long
// agent lifetimes.
func (s *SQLiteStore) PruneProcessed(
	ctx context.Context, olderThan time.Time,
) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM processed WHERE processed_at < ?", olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning processed set: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned rows: %w", err)
	}
	return removed, nil
}

// RecordAction inserts a dispatch audit record.
// If the record has no ID, a new UUID is generated.
func (s *SQLiteStore) RecordAction(ctx context.Context, rec ActionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_log (id, uid, action, target, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UID, rec.Action, rec.Target, rec.Status, rec.Error,
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording action: %w", err)
	}

	return nil
}

// RecentActions retrieves the most recent audit records, newest first.
func (s *SQLiteStore) RecentActions(
	ctx context.Context, limit int,
) ([]ActionRecord, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryxContext(ctx,
		"SELECT * FROM action_log ORDER BY created_at DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying action log: %w", err)
	}
	defer rows.Close()

	var records []ActionRecord
	for rows.Next() {
		rec, err := scanActionRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// scanActionRecord scans an audit row from a sqlx.Rows result set.
func scanActionRecord(rows *sqlx.Rows) (ActionRecord, error) {
	var (
		rec       ActionRecord
		createdAt time.Time
	)

	err := rows.Scan(
		&rec.ID, &rec.UID, &rec.Action, &rec.Target,
		&rec.Status, &rec.Error, &createdAt,
	)
	if err != nil {
		return ActionRecord{}, fmt.Errorf("scanning action row: %w", err)
	}

	rec.CreatedAt = createdAt
	return rec, nil
}
