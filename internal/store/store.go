package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"loupe/internal/logging"
)

// ErrNotFound is returned when a row lookup matches nothing.
var ErrNotFound = errors.New("not found")

// timeLayout is the canonical text form for timestamps. Local time, second
// resolution, compatible with SQLite's datetime() functions.
const timeLayout = "2006-01-02 15:04:05"

// Store is the durable state layer: tags, rules, activities, settings and
// media-asset metadata in a single SQLite file. WAL mode gives concurrent
// readers with serialised writers; database/sql pooling gives per-goroutine
// connections.
type Store struct {
	db     *sql.DB
	path   string
	logger logging.Logger
}

// Open opens (creating if necessary) the database at path, ensures the
// schema, applies additive migrations and seeds defaults. Schema failures
// abort; the caller should treat an error as fatal for start-up. Crash
// repair is the caller's job, see RepairOpenActivities.
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logging.OrNop(logger)}

	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema check failed: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	if err := s.seed(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seeding failed: %w", err)
	}

	return s, nil
}

// Close checkpoints the WAL and closes the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Warn("wal checkpoint on close failed: %v", err)
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// CheckIntegrity runs PRAGMA integrity_check and returns an error unless the
// result is exactly "ok". Used before backups and when validating an
// uploaded restore candidate.
func (s *Store) CheckIntegrity(ctx context.Context) error {
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Checkpoint forces a full WAL checkpoint so the main file is current before
// a snapshot copy.
func (s *Store) Checkpoint(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint failed: %w", err)
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    color TEXT NOT NULL DEFAULT '#808080',
    created_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS rules (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    process_pattern TEXT,
    url_pattern TEXT,
    title_pattern TEXT,
    browser_profile TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);

CREATE TABLE IF NOT EXISTS activities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    start_time TEXT NOT NULL,
    end_time TEXT,
    process_name TEXT NOT NULL DEFAULT '',
    window_title TEXT NOT NULL DEFAULT '',
    url TEXT,
    browser_profile TEXT,
    tag_id INTEGER REFERENCES tags(id) ON DELETE SET NULL,
    rule_id INTEGER REFERENCES rules(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities(start_time);
CREATE INDEX IF NOT EXISTS idx_activities_tag_id ON activities(tag_id);
CREATE INDEX IF NOT EXISTS idx_activities_open ON activities(end_time) WHERE end_time IS NULL;
CREATE INDEX IF NOT EXISTS idx_rules_priority ON rules(priority DESC, id ASC);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS media_assets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL CHECK (kind IN ('sound','image')),
    name TEXT NOT NULL,
    filename TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now','localtime'))
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// migrate applies additive column migrations. Each is probed first so
// re-opening an already-migrated database is a no-op.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		{"tags", "alert_enabled", "ALTER TABLE tags ADD COLUMN alert_enabled INTEGER NOT NULL DEFAULT 0"},
		{"tags", "alert_message", "ALTER TABLE tags ADD COLUMN alert_message TEXT NOT NULL DEFAULT ''"},
		{"tags", "alert_cooldown", "ALTER TABLE tags ADD COLUMN alert_cooldown INTEGER NOT NULL DEFAULT 60"},
		{"tags", "block_enabled", "ALTER TABLE tags ADD COLUMN block_enabled INTEGER NOT NULL DEFAULT 0"},
		{"tags", "block_start", "ALTER TABLE tags ADD COLUMN block_start TEXT NOT NULL DEFAULT ''"},
		{"tags", "block_end", "ALTER TABLE tags ADD COLUMN block_end TEXT NOT NULL DEFAULT ''"},
		{"rules", "process_path_pattern", "ALTER TABLE rules ADD COLUMN process_path_pattern TEXT"},
		{"tags", "category", "ALTER TABLE tags ADD COLUMN category TEXT NOT NULL DEFAULT 'other'"},
	}

	for _, m := range migrations {
		ok, err := s.hasColumn(ctx, m.table, m.column)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.ddl); err != nil {
			return fmt.Errorf("adding %s.%s: %w", m.table, m.column, err)
		}
		s.logger.Debug("migrated: added column %s.%s", m.table, m.column)
	}
	return nil
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("probing %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// seed inserts the default tags and the two sentinel rules when missing.
// Presence is keyed by unique name, so seeding is idempotent and respects
// user renames of everything except the reserved tags.
func (s *Store) seed(ctx context.Context) error {
	defaultTags := []struct {
		name     string
		color    string
		category string
	}{
		{TagAway, "#9E9E9E", "other"},
		{TagUnclassified, "#BDBDBD", "other"},
		{"Work", "#4CAF50", "work"},
		{"Browsing", "#FF9800", "non_work"},
	}
	for _, tag := range defaultTags {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO tags (name, color, category) VALUES (?, ?, ?)`,
			tag.name, tag.color, tag.category,
		); err != nil {
			return fmt.Errorf("seeding tag %s: %w", tag.name, err)
		}
	}

	away, err := s.GetTagByName(ctx, TagAway)
	if err != nil {
		return fmt.Errorf("seeding rules: %w", err)
	}

	seedRules := []struct {
		name     string
		priority int
		pattern  string
	}{
		{"Screen locked", 100, ProcessLocked},
		{"User idle", 90, ProcessIdle},
	}
	for _, r := range seedRules {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO rules (name, priority, enabled, tag_id, process_pattern)
             SELECT ?, ?, 1, ?, ?
             WHERE NOT EXISTS (SELECT 1 FROM rules WHERE name = ?)`,
			r.name, r.priority, away.ID, r.pattern, r.name,
		); err != nil {
			return fmt.Errorf("seeding rule %s: %w", r.name, err)
		}
	}
	return nil
}

// RepairOpenActivities closes every activity left open by a crash, setting
// end = start + 60 s. Returns the number of rows repaired.
func (s *Store) RepairOpenActivities(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE activities SET end_time = datetime(start_time, '+60 seconds') WHERE end_time IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("repairing open activities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// execRetry executes a write statement, retrying a bounded number of times
// when SQLite reports the database busy. busy_timeout already absorbs most
// contention; this covers the rare timeout expiry.
func (s *Store) execRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(50*(attempt+1)) * time.Millisecond):
		}
	}
	return nil, lastErr
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func formatTime(t time.Time) string {
	return t.Local().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.Local)
}

// scanNullTime converts a nullable text timestamp column.
func scanNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := parseTime(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
