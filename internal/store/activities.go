package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const activityColumns = `id, start_time, end_time, process_name, window_title, url,
       browser_profile, tag_id, rule_id`

func scanActivity(row interface{ Scan(...any) error }) (Activity, error) {
	var (
		a        Activity
		start    string
		end      sql.NullString
		url      sql.NullString
		profile  sql.NullString
		tagID    sql.NullInt64
		ruleID   sql.NullInt64
		parseErr error
	)
	if err := row.Scan(&a.ID, &start, &end, &a.ProcessName, &a.WindowTitle,
		&url, &profile, &tagID, &ruleID); err != nil {
		return Activity{}, err
	}
	if a.StartTime, parseErr = parseTime(start); parseErr != nil {
		return Activity{}, fmt.Errorf("activity %d has bad start time %q: %w", a.ID, start, parseErr)
	}
	endTime, err := scanNullTime(end)
	if err != nil {
		return Activity{}, fmt.Errorf("activity %d has bad end time: %w", a.ID, err)
	}
	a.EndTime = endTime
	if url.Valid {
		a.URL = &url.String
	}
	if profile.Valid {
		a.BrowserProfile = &profile.String
	}
	if tagID.Valid {
		a.TagID = &tagID.Int64
	}
	if ruleID.Valid {
		a.RuleID = &ruleID.Int64
	}
	return a, nil
}

// CreateActivity opens a new interval starting now and returns its id.
func (s *Store) CreateActivity(ctx context.Context, a NewActivity) (int64, error) {
	res, err := s.execRetry(ctx,
		`INSERT INTO activities (start_time, process_name, window_title, url, browser_profile, tag_id, rule_id)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		formatTime(time.Now()), a.ProcessName, a.WindowTitle,
		nullIfEmptyPtr(a.URL), nullIfEmptyPtr(a.BrowserProfile), a.TagID, nullInt(a.RuleID))
	if err != nil {
		return 0, fmt.Errorf("creating activity: %w", err)
	}
	return res.LastInsertId()
}

// EndActivity closes an open interval at the current wall clock. Calling it
// again for an already-closed row is a no-op, so the first end timestamp
// sticks.
func (s *Store) EndActivity(ctx context.Context, id int64) error {
	if _, err := s.execRetry(ctx,
		`UPDATE activities SET end_time = ? WHERE id = ? AND end_time IS NULL`,
		formatTime(time.Now()), id); err != nil {
		return fmt.Errorf("ending activity %d: %w", id, err)
	}
	return nil
}

// GetActivity returns one activity by id.
func (s *Store) GetActivity(ctx context.Context, id int64) (Activity, error) {
	a, err := scanActivity(s.db.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM activities WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Activity{}, fmt.Errorf("activity %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Activity{}, fmt.Errorf("getting activity %d: %w", id, err)
	}
	return a, nil
}

// ListActivities returns the activities that started on the given local day,
// oldest first, optionally filtered to one tag.
func (s *Store) ListActivities(ctx context.Context, date string, tagID *int64) ([]Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE date(start_time) = ?`
	args := []any{date}
	if tagID != nil {
		query += ` AND tag_id = ?`
		args = append(args, *tagID)
	}
	query += ` ORDER BY start_time ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing activities for %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// OpenActivityCount reports how many intervals are currently open. The
// monitor keeps this at zero or one; anything else indicates a bug.
func (s *Store) OpenActivityCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activities WHERE end_time IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting open activities: %w", err)
	}
	return n, nil
}

// ListUnclassified groups the activities resolved to the Unclassified tag
// (or orphaned entirely) by process and title, heaviest first.
func (s *Store) ListUnclassified(ctx context.Context) ([]UnclassifiedGroup, error) {
	unclassifiedID := int64(-1)
	if t, err := s.GetTagByName(ctx, TagUnclassified); err == nil {
		unclassifiedID = t.ID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT process_name, window_title, COUNT(*),
                SUM(strftime('%s', COALESCE(end_time, ?)) - strftime('%s', start_time)),
                GROUP_CONCAT(id)
         FROM activities
         WHERE (tag_id IS NULL OR tag_id = ?)
           AND process_name NOT IN (?, ?, ?)
         GROUP BY process_name, window_title
         ORDER BY 4 DESC`,
		formatTime(time.Now()), unclassifiedID, ProcessLocked, ProcessIdle, ProcessUnknown)
	if err != nil {
		return nil, fmt.Errorf("listing unclassified activities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var groups []UnclassifiedGroup
	for rows.Next() {
		var (
			g   UnclassifiedGroup
			ids string
		)
		if err := rows.Scan(&g.ProcessName, &g.WindowTitle, &g.Count, &g.Seconds, &ids); err != nil {
			return nil, err
		}
		for _, part := range strings.Split(ids, ",") {
			var id int64
			if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
				g.ActivityIDs = append(g.ActivityIDs, id)
			}
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// DeleteActivities removes the given rows. Returns the number deleted.
func (s *Store) DeleteActivities(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.execRetry(ctx, `DELETE FROM activities WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting activities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// ReclassifyScope selects which activities a reclassification pass visits.
type ReclassifyScope int

const (
	// ReclassifyUntagged visits rows with no tag or the Unclassified tag.
	ReclassifyUntagged ReclassifyScope = iota
	// ReclassifyAll visits every activity.
	ReclassifyAll
)

// ListForReclassify returns the activities in scope, oldest first.
func (s *Store) ListForReclassify(ctx context.Context, scope ReclassifyScope) ([]Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities`
	var args []any
	if scope == ReclassifyUntagged {
		unclassifiedID := int64(-1)
		if t, err := s.GetTagByName(ctx, TagUnclassified); err == nil {
			unclassifiedID = t.ID
		}
		query += ` WHERE tag_id IS NULL OR tag_id = ?`
		args = append(args, unclassifiedID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing activities for reclassification: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateClassification rewrites the (tag, rule) assignment of one activity.
func (s *Store) UpdateClassification(ctx context.Context, id int64, tagID int64, ruleID *int64) error {
	if _, err := s.execRetry(ctx,
		`UPDATE activities SET tag_id = ?, rule_id = ? WHERE id = ?`,
		tagID, nullInt(ruleID), id); err != nil {
		return fmt.Errorf("reclassifying activity %d: %w", id, err)
	}
	return nil
}

func nullIfEmptyPtr(s *string) any {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return *s
}

func nullInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
