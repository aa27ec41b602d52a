package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// durationExpr computes elapsed seconds for a row, counting open intervals
// up to the supplied "now" parameter.
const durationExpr = `strftime('%s', COALESCE(end_time, ?)) - strftime('%s', start_time)`

// StatsByTag sums activity durations per tag for local days in
// [startDate, endDate] (inclusive, YYYY-MM-DD). Open intervals count up to
// now. Activities keep their start day even when they cross midnight.
func (s *Store) StatsByTag(ctx context.Context, startDate, endDate string) ([]TagStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT a.tag_id, COALESCE(t.name, ''), COALESCE(t.color, '#808080'), COALESCE(t.category, 'other'),
                SUM(`+durationExpr+`) AS seconds
         FROM activities a
         LEFT JOIN tags t ON t.id = a.tag_id
         WHERE date(a.start_time) >= ? AND date(a.start_time) <= ?
         GROUP BY a.tag_id, t.name, t.color, t.category
         ORDER BY seconds DESC`,
		formatTime(time.Now()), startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("computing tag stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []TagStat
	for rows.Next() {
		var (
			st    TagStat
			tagID sql.NullInt64
		)
		if err := rows.Scan(&tagID, &st.TagName, &st.TagColor, &st.TagCategory, &st.Seconds); err != nil {
			return nil, err
		}
		if tagID.Valid {
			st.TagID = &tagID.Int64
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// HourlyStats sums durations per (local start hour, tag) for one day.
func (s *Store) HourlyStats(ctx context.Context, date string) ([]HourlyStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT CAST(strftime('%H', a.start_time) AS INTEGER) AS hour,
                a.tag_id, COALESCE(t.name, ''),
                SUM(`+durationExpr+`) AS seconds
         FROM activities a
         LEFT JOIN tags t ON t.id = a.tag_id
         WHERE date(a.start_time) = ?
         GROUP BY hour, a.tag_id, t.name
         ORDER BY hour ASC`,
		formatTime(time.Now()), date)
	if err != nil {
		return nil, fmt.Errorf("computing hourly stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []HourlyStat
	for rows.Next() {
		var (
			st    HourlyStat
			tagID sql.NullInt64
		)
		if err := rows.Scan(&st.Hour, &tagID, &st.TagName, &st.Seconds); err != nil {
			return nil, err
		}
		if tagID.Valid {
			st.TagID = &tagID.Int64
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// TopProcesses sums durations per process name, heaviest first. Sentinel
// pseudo-processes and the lock shell never appear.
func (s *Store) TopProcesses(ctx context.Context, startDate, endDate string, limit int) ([]ProcessStat, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT process_name, SUM(`+durationExpr+`) AS seconds, COUNT(*)
         FROM activities
         WHERE date(start_time) >= ? AND date(start_time) <= ?
           AND process_name NOT IN (?, ?, ?, 'LockApp.exe')
         GROUP BY process_name
         ORDER BY seconds DESC
         LIMIT ?`,
		formatTime(time.Now()), startDate, endDate,
		ProcessLocked, ProcessIdle, ProcessUnknown, limit)
	if err != nil {
		return nil, fmt.Errorf("computing process stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []ProcessStat
	for rows.Next() {
		var st ProcessStat
		if err := rows.Scan(&st.ProcessName, &st.Seconds, &st.Count); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// DomainStat aggregates time per URL host.
type DomainStat struct {
	Domain  string  `json:"domain"`
	Seconds float64 `json:"seconds"`
}

// DomainStats sums durations per URL host over the date range, heaviest
// first, capped at limit. Hosts are parsed in Go since SQLite cannot.
func (s *Store) DomainStats(ctx context.Context, startDate, endDate string, limit int) ([]DomainStat, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, `+durationExpr+` AS seconds
         FROM activities
         WHERE date(start_time) >= ? AND date(start_time) <= ? AND url IS NOT NULL AND url != ''`,
		formatTime(time.Now()), startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("computing domain stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	totals := make(map[string]float64)
	for rows.Next() {
		var (
			raw     string
			seconds float64
		)
		if err := rows.Scan(&raw, &seconds); err != nil {
			return nil, err
		}
		host := hostOf(raw)
		if host == "" {
			continue
		}
		totals[host] += seconds
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stats := make([]DomainStat, 0, len(totals))
	for host, seconds := range totals {
		stats = append(stats, DomainStat{Domain: host, Seconds: seconds})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Seconds != stats[j].Seconds {
			return stats[i].Seconds > stats[j].Seconds
		}
		return stats[i].Domain < stats[j].Domain
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// DailyTagStats sums durations per (local day, tag) for the period stack.
func (s *Store) DailyTagStats(ctx context.Context, startDate, endDate string) ([]DailyTagStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date(a.start_time) AS day, a.tag_id, COALESCE(t.name, ''), COALESCE(t.color, '#808080'),
                SUM(`+durationExpr+`) AS seconds
         FROM activities a
         LEFT JOIN tags t ON t.id = a.tag_id
         WHERE date(a.start_time) >= ? AND date(a.start_time) <= ?
         GROUP BY day, a.tag_id, t.name, t.color
         ORDER BY day ASC, seconds DESC`,
		formatTime(time.Now()), startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("computing daily tag stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []DailyTagStat
	for rows.Next() {
		var (
			st    DailyTagStat
			tagID sql.NullInt64
		)
		if err := rows.Scan(&st.Date, &tagID, &st.TagName, &st.TagColor, &st.Seconds); err != nil {
			return nil, err
		}
		if tagID.Valid {
			st.TagID = &tagID.Int64
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// DaySummary returns headline numbers for one day: row count, first start,
// last end (falling back to start for open rows) and tag switch count.
func (s *Store) DaySummary(ctx context.Context, date string) (DaySummary, error) {
	var (
		summary DaySummary
		first   sql.NullString
		last    sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(start_time), MAX(COALESCE(end_time, start_time))
         FROM activities WHERE date(start_time) = ?`, date).
		Scan(&summary.ActivityCount, &first, &last)
	if err != nil {
		return DaySummary{}, fmt.Errorf("computing day summary: %w", err)
	}
	if summary.FirstActivity, err = scanNullTime(first); err != nil {
		return DaySummary{}, err
	}
	if summary.LastActivity, err = scanNullTime(last); err != nil {
		return DaySummary{}, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (
            SELECT tag_id, LAG(tag_id) OVER (ORDER BY start_time, id) AS prev
            FROM activities WHERE date(start_time) = ?
         ) WHERE prev IS NOT NULL AND COALESCE(tag_id, -1) != COALESCE(prev, -1)`,
		date).Scan(&summary.TagSwitches)
	if err != nil {
		return DaySummary{}, fmt.Errorf("computing tag switches: %w", err)
	}
	return summary, nil
}
