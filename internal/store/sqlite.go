package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"formsense/internal/decision"
	"formsense/internal/form"
	"formsense/internal/logging"
	"formsense/internal/rules"
)

// SQLiteStore backs all three store interfaces with one SQLite file.
// Rules, trees, and session contexts are stored as JSON payloads keyed
// by id; the schema is deliberately dumb since all querying happens in
// Go after deserialization.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreError("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreError("failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreError("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &SQLiteStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("sqlite store ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS validation_rules (
		id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1,
		payload TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS decision_trees (
		id TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS form_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON form_sessions(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// PutRule inserts or replaces a validation rule.
func (s *SQLiteStore) PutRule(ctx context.Context, rule rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("failed to marshal rule %s: %w", rule.ID, err)
	}
	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO validation_rules (id, enabled, payload) VALUES (?, ?, ?)`,
		rule.ID, enabled, string(payload))
	if err != nil {
		return fmt.Errorf("failed to store rule %s: %w", rule.ID, err)
	}
	return nil
}

// ActiveRules returns all enabled rules.
func (s *SQLiteStore) ActiveRules(ctx context.Context) ([]rules.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM validation_rules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		var r rules.Rule
		if err := json.Unmarshal([]byte(payload), &r); err != nil {
			logging.StoreError("skipping undecodable rule payload: %v", err)
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutTree inserts or replaces a decision tree after validating it.
func (s *SQLiteStore) PutTree(ctx context.Context, tree decision.DecisionTree) error {
	if err := tree.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid tree: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("failed to marshal tree %s: %w", tree.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO decision_trees (id, payload) VALUES (?, ?)`,
		tree.ID, string(payload))
	if err != nil {
		return fmt.Errorf("failed to store tree %s: %w", tree.ID, err)
	}
	return nil
}

// TreesForPhase returns the trees whose AppliesTo includes the phase.
func (s *SQLiteStore) TreesForPhase(ctx context.Context, phase string) ([]decision.DecisionTree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM decision_trees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trees: %w", err)
	}
	defer rows.Close()

	var out []decision.DecisionTree
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan tree row: %w", err)
		}
		var t decision.DecisionTree
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			logging.StoreError("skipping undecodable tree payload: %v", err)
			continue
		}
		if t.AppliesToPhase(phase) {
			out = append(out, t)
		}
	}
	return out, rows.Err()
}

// Put stores a session context snapshot.
func (s *SQLiteStore) Put(ctx context.Context, fc form.FormContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", fc.SessionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO form_sessions (session_id, user_id, payload, updated_at) VALUES (?, ?, ?, ?)`,
		fc.SessionID, fc.UserID, string(payload), fc.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store session %s: %w", fc.SessionID, err)
	}
	return nil
}

// Get loads a session context by id.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (form.FormContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM form_sessions WHERE session_id = ?`, sessionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return form.FormContext{}, ErrSessionNotFound
	}
	if err != nil {
		return form.FormContext{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var fc form.FormContext
	if err := json.Unmarshal([]byte(payload), &fc); err != nil {
		return form.FormContext{}, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	return fc, nil
}

// PurgeExpired deletes sessions past the retention window.
func (s *SQLiteStore) PurgeExpired(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-retention).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM form_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged sessions: %w", err)
	}
	if n > 0 {
		logging.Get(logging.CategorySession).Info("purged %d expired session(s)", n)
	}
	return int(n), nil
}
