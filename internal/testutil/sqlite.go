package testutil

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// ExecSQL opens a second connection to the SQLite database at path and runs
// one statement. Tests use it to backdate rows, since the production API
// only writes at the current wall clock. WAL mode makes the extra connection
// safe alongside an open store.
func ExecSQL(t *testing.T, path, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("opening test connection: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// InsertActivitySpan inserts a closed activity with explicit timestamps.
func InsertActivitySpan(t *testing.T, path string, start, end time.Time, process, title string, tagID int64) {
	t.Helper()
	const layout = "2006-01-02 15:04:05"
	ExecSQL(t, path,
		`INSERT INTO activities (start_time, end_time, process_name, window_title, tag_id)
         VALUES (?, ?, ?, ?, ?)`,
		start.Format(layout), end.Format(layout), process, title, tagID)
}
