package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRecordNotFound is returned when a record id has no row.
var ErrRecordNotFound = errors.New("memory record not found")

// SQLiteStore is the canonical persistent memory storage. The vector
// index is derived state and can always be rebuilt from these rows.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process memory service. Use one shared connection to avoid
	// writer lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS memory_records_user_idx ON memory_records(user_id, created_at_ms DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

// Insert persists a new record, assigning an id when absent.
func (s *SQLiteStore) Insert(ctx context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if strings.TrimSpace(rec.UserID) == "" {
		return fmt.Errorf("record user id is required")
	}
	if strings.TrimSpace(rec.Summary) == "" {
		return fmt.Errorf("record summary is required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAtMS == 0 {
		rec.CreatedAtMS = nowMS()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO memory_records(id, user_id, summary, metadata_json, created_at_ms)
VALUES(?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Summary, encodeMap(rec.Metadata), rec.CreatedAtMS)
	if err != nil {
		return fmt.Errorf("insert memory record: %w", err)
	}
	return nil
}

// GetMany loads records by id, skipping ids with no row.
func (s *SQLiteStore) GetMany(ctx context.Context, ids []string) (map[string]Record, error) {
	out := make(map[string]Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, summary, metadata_json, created_at_ms
FROM memory_records WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load memory records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		var metadata string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Summary, &metadata, &rec.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		rec.Metadata = decodeMap(metadata)
		out[rec.ID] = rec
	}
	return out, rows.Err()
}

// ListByUser returns a user's records newest first.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, summary, metadata_json, created_at_ms
FROM memory_records WHERE user_id = ?
ORDER BY created_at_ms DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var metadata string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Summary, &metadata, &rec.CreatedAtMS); err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		rec.Metadata = decodeMap(metadata)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteByUser removes every record for a user and reports how many rows
// were deleted.
func (s *SQLiteStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_records WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete memory records: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted records: %w", err)
	}
	return int(affected), nil
}

// Users returns the distinct user ids with at least one record.
func (s *SQLiteStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT user_id FROM memory_records`)
	if err != nil {
		return nil, fmt.Errorf("list memory users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}
