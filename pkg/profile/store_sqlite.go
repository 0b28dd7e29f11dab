package profile

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

	_ "modernc.org/sqlite"

	"github.com/kdf-labs/empathicbot/pkg/logger"
)

// DefaultMaxInstructions bounds the standing instruction list. Oldest
// entries are dropped first once the cap is reached.
const DefaultMaxInstructions = 20

// SQLiteStore is the canonical persistent profile storage.
type SQLiteStore struct {
	db              *sql.DB
	maxInstructions int
}

// NewSQLiteStore creates/opens the profile database at path.
func NewSQLiteStore(path string, maxInstructions int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create profile db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process service. Use one shared connection to avoid writer
	// lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if maxInstructions <= 0 {
		maxInstructions = DefaultMaxInstructions
	}

	store := &SQLiteStore{db: db, maxInstructions: maxInstructions}
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
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			consent INTEGER,
			current_stage INTEGER NOT NULL DEFAULT 1,
			instructions_json TEXT NOT NULL DEFAULT '[]',
			running_notes TEXT NOT NULL DEFAULT '',
			session_params_json TEXT NOT NULL DEFAULT '{}',
			last_seen_ms INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS user_profiles_seen_idx ON user_profiles(last_seen_ms DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

// Get loads a profile by sanitized user id. Returns ErrNotFound when no
// row exists.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*UserProfile, error) {
	userID = SanitizeUserID(userID)
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, username, email, consent, current_stage, instructions_json,
       running_notes, session_params_json, last_seen_ms, created_at_ms, updated_at_ms
FROM user_profiles WHERE user_id = ?`, userID)

	var (
		p            UserProfile
		consent      sql.NullInt64
		instructions string
		params       string
	)
	err := row.Scan(&p.UserID, &p.Username, &p.Email, &consent, &p.CurrentStage,
		&instructions, &p.RunningNotes, &params, &p.LastSeenMS, &p.CreatedAtMS, &p.UpdatedAtMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}

	if consent.Valid {
		v := consent.Int64 != 0
		p.Consent = &v
	}
	p.Instructions = coerceInstructions(userID, instructions)
	p.SessionParams = decodeMap(params)
	return &p, nil
}

// GetOrCreate loads a profile, creating a fresh one on first contact.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, userID string) (*UserProfile, error) {
	p, err := s.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := nowMS()
	p = &UserProfile{
		UserID:        SanitizeUserID(userID),
		CurrentStage:  1,
		Instructions:  []string{},
		SessionParams: map[string]string{},
		CreatedAtMS:   now,
		UpdatedAtMS:   now,
	}
	if err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save upserts the full profile row.
func (s *SQLiteStore) Save(ctx context.Context, p *UserProfile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	p.UserID = SanitizeUserID(p.UserID)
	if p.CurrentStage < 1 {
		p.CurrentStage = 1
	}
	if len(p.Instructions) > s.maxInstructions {
		p.Instructions = p.Instructions[len(p.Instructions)-s.maxInstructions:]
	}

	now := nowMS()
	if p.CreatedAtMS == 0 {
		p.CreatedAtMS = now
	}
	p.UpdatedAtMS = now

	var consent sql.NullInt64
	if p.Consent != nil {
		consent.Valid = true
		if *p.Consent {
			consent.Int64 = 1
		}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO user_profiles(user_id, username, email, consent, current_stage, instructions_json,
	running_notes, session_params_json, last_seen_ms, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	username = excluded.username,
	email = excluded.email,
	consent = excluded.consent,
	current_stage = excluded.current_stage,
	instructions_json = excluded.instructions_json,
	running_notes = excluded.running_notes,
	session_params_json = excluded.session_params_json,
	last_seen_ms = excluded.last_seen_ms,
	updated_at_ms = excluded.updated_at_ms`,
		p.UserID, p.Username, p.Email, consent, p.CurrentStage, encodeStrings(p.Instructions),
		p.RunningNotes, encodeMap(p.SessionParams), p.LastSeenMS, p.CreatedAtMS, p.UpdatedAtMS)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.UserID, err)
	}
	return nil
}

// SetConsent records the user's consent answer, creating the profile if
// needed. An optional username is merged in when non-empty.
func (s *SQLiteStore) SetConsent(ctx context.Context, userID string, consent bool, username string) (*UserProfile, error) {
	p, err := s.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Consent = &consent
	if strings.TrimSpace(username) != "" {
		p.Username = strings.TrimSpace(username)
	}
	if err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// AddInstruction appends a standing instruction, dropping exact
// duplicates and trimming the oldest entries past the cap.
func (p *UserProfile) AddInstruction(text string, max int) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, existing := range p.Instructions {
		if existing == text {
			return false
		}
	}
	p.Instructions = append(p.Instructions, text)
	if max > 0 && len(p.Instructions) > max {
		p.Instructions = p.Instructions[len(p.Instructions)-max:]
	}
	return true
}

// ClearStaleSessions wipes the session buffer and running notes of
// profiles idle since before cutoffMS. The stage itself is left alone;
// the hard-gap rule resets it on the user's next turn anyway.
func (s *SQLiteStore) ClearStaleSessions(ctx context.Context, cutoffMS int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE user_profiles
SET session_params_json = '{}', running_notes = '', updated_at_ms = ?
WHERE last_seen_ms > 0 AND last_seen_ms < ?
  AND (session_params_json <> '{}' OR running_notes <> '')`,
		nowMS(), cutoffMS)
	if err != nil {
		return 0, fmt.Errorf("clear stale sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count cleared sessions: %w", err)
	}
	return int(affected), nil
}

// MaxInstructions exposes the configured cap for callers that mutate
// profiles directly.
func (s *SQLiteStore) MaxInstructions() int {
	return s.maxInstructions
}

// coerceInstructions tolerates legacy rows where the column holds a JSON
// string or bare text instead of a list.
func coerceInstructions(userID, raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []string{}
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}

	var single string
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []string{single}
		}
		return []string{}
	}

	logger.WarnCF("profile", "coercing malformed instructions column", map[string]interface{}{
		"user_id": userID,
	})
	return []string{raw}
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeStrings(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

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
