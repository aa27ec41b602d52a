package daylog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"loupe/internal/config"
	"loupe/internal/logging"
	"loupe/internal/store"
)

const dateLayout = "2006-01-02"

// Generator writes the UTF-8 text summaries under activity_logs/: one file
// per day, a rolling recent.log of the last week, and monthly aggregates.
type Generator struct {
	store  *store.Store
	paths  config.Paths
	logger logging.Logger
}

// NewGenerator builds a generator over the store and log directories.
func NewGenerator(st *store.Store, paths config.Paths, logger logging.Logger) *Generator {
	return &Generator{store: st, paths: paths, logger: logging.OrNop(logger)}
}

// GenerateDaily writes activity_logs/daily/<date>.log for one local day and
// refreshes recent.log. Overwrites any previous file for the day.
func (g *Generator) GenerateDaily(ctx context.Context, date string) error {
	day, err := time.ParseInLocation(dateLayout, date, time.Local)
	if err != nil {
		return fmt.Errorf("bad date %q: %w", date, err)
	}

	stats, err := g.store.StatsByTag(ctx, date, date)
	if err != nil {
		return err
	}
	processes, err := g.store.TopProcesses(ctx, date, date, 10)
	if err != nil {
		return err
	}
	summary, err := g.store.DaySummary(ctx, date)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Activity summary for %s (%s)\n", date, day.Weekday())
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	var total float64
	for _, st := range stats {
		if st.TagName != store.TagAway {
			total += st.Seconds
		}
	}
	fmt.Fprintf(&b, "Tracked time (excluding Away): %s\n", formatDuration(total))
	fmt.Fprintf(&b, "Activities: %d, tag switches: %d\n", summary.ActivityCount, summary.TagSwitches)
	if summary.FirstActivity != nil && summary.LastActivity != nil {
		fmt.Fprintf(&b, "First activity: %s, last activity: %s\n",
			summary.FirstActivity.Format("15:04"), summary.LastActivity.Format("15:04"))
	}

	b.WriteString("\nTime by tag\n-----------\n")
	for _, st := range stats {
		name := st.TagName
		if name == "" {
			name = "(untagged)"
		}
		percent := 0.0
		if total > 0 && st.TagName != store.TagAway {
			percent = st.Seconds / total * 100
		}
		fmt.Fprintf(&b, "%-24s %10s  %5.1f%%\n", name, formatDuration(st.Seconds), percent)
	}

	if len(processes) > 0 {
		b.WriteString("\nTop processes\n-------------\n")
		for _, p := range processes {
			fmt.Fprintf(&b, "%-32s %10s\n", p.ProcessName, formatDuration(p.Seconds))
		}
	}

	path := filepath.Join(g.paths.DailyLogsDir, date+".log")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing daily log %s: %w", path, err)
	}
	g.logger.Debug("wrote daily log %s", path)

	return g.GenerateRecent()
}

// GenerateRecent concatenates the newest seven daily logs into recent.log,
// newest first.
func (g *Generator) GenerateRecent() error {
	entries, err := os.ReadDir(g.paths.DailyLogsDir)
	if err != nil {
		return fmt.Errorf("listing daily logs: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > 7 {
		names = names[:7]
	}

	var b strings.Builder
	for i, name := range names {
		content, err := os.ReadFile(filepath.Join(g.paths.DailyLogsDir, name))
		if err != nil {
			g.logger.Warn("reading daily log %s: %v", name, err)
			continue
		}
		if i > 0 {
			b.WriteString("\n" + strings.Repeat("#", 50) + "\n\n")
		}
		b.Write(content)
	}
	if err := os.WriteFile(g.paths.RecentLogFile, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing recent log: %w", err)
	}
	return nil
}

// LogEmergencyReset prepends an audit block to recent.log recording which
// block flags were cleared and why. Prepended so the entry survives until
// the retention window rolls it out, even as daily logs regenerate below it.
func (g *Generator) LogEmergencyReset(tags []string, reason string) error {
	names := "none"
	if len(tags) > 0 {
		names = strings.Join(tags, ", ")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[EMERGENCY RESET] %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Cleared tags: %s\n", names)
	fmt.Fprintf(&b, "Reason: %s\n\n", reason)

	existing, err := os.ReadFile(g.paths.RecentLogFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading recent log: %w", err)
	}
	if err := os.WriteFile(g.paths.RecentLogFile, append([]byte(b.String()), existing...), 0o644); err != nil {
		return fmt.Errorf("writing recent log: %w", err)
	}
	return nil
}

// GenerateMonthly writes activity_logs/monthly/<YYYY-MM>.log with per-tag
// totals and daily tracked-time lines for the month.
func (g *Generator) GenerateMonthly(ctx context.Context, month string) error {
	first, err := time.ParseInLocation("2006-01", month, time.Local)
	if err != nil {
		return fmt.Errorf("bad month %q: %w", month, err)
	}
	last := first.AddDate(0, 1, -1)
	startDate, endDate := first.Format(dateLayout), last.Format(dateLayout)

	stats, err := g.store.StatsByTag(ctx, startDate, endDate)
	if err != nil {
		return err
	}
	daily, err := g.store.DailyTagStats(ctx, startDate, endDate)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Monthly summary for %s\n", month)
	b.WriteString(strings.Repeat("=", 50) + "\n\nTime by tag\n-----------\n")
	for _, st := range stats {
		name := st.TagName
		if name == "" {
			name = "(untagged)"
		}
		fmt.Fprintf(&b, "%-24s %12s\n", name, formatDuration(st.Seconds))
	}

	perDay := make(map[string]float64)
	for _, d := range daily {
		if d.TagName != store.TagAway {
			perDay[d.Date] += d.Seconds
		}
	}
	if len(perDay) > 0 {
		b.WriteString("\nTracked time per day\n--------------------\n")
		days := make([]string, 0, len(perDay))
		for d := range perDay {
			days = append(days, d)
		}
		sort.Strings(days)
		for _, d := range days {
			fmt.Fprintf(&b, "%s  %10s\n", d, formatDuration(perDay[d]))
		}
	}

	path := filepath.Join(g.paths.MonthlyLogsDir, month+".log")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing monthly log %s: %w", path, err)
	}
	g.logger.Debug("wrote monthly log %s", path)
	return nil
}

// CleanupOld removes daily logs older than the retention window. Returns the
// number of files removed.
func (g *Generator) CleanupOld(ctx context.Context) (int, error) {
	retention := g.store.SettingInt(ctx, store.SettingLogRetentionDays, 30)
	cutoff := time.Now().AddDate(0, 0, -retention).Format(dateLayout)

	entries, err := os.ReadDir(g.paths.DailyLogsDir)
	if err != nil {
		return 0, fmt.Errorf("listing daily logs: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".log") {
			continue
		}
		date := strings.TrimSuffix(name, ".log")
		if _, err := time.ParseInLocation(dateLayout, date, time.Local); err != nil {
			continue
		}
		if date < cutoff {
			if err := os.Remove(filepath.Join(g.paths.DailyLogsDir, name)); err != nil {
				g.logger.Warn("removing expired log %s: %v", name, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		g.logger.Info("removed %d daily logs past the %d-day retention", removed, retention)
	}
	return removed, nil
}

// CatchUp generates any missing daily logs for the last week (excluding
// today, which is still accumulating) and the previous month's aggregate if
// it is absent. Run at startup to cover days the daemon was not running.
func (g *Generator) CatchUp(ctx context.Context) {
	today := time.Now()
	for i := 1; i <= 7; i++ {
		date := today.AddDate(0, 0, -i).Format(dateLayout)
		path := filepath.Join(g.paths.DailyLogsDir, date+".log")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := g.GenerateDaily(ctx, date); err != nil {
			g.logger.Warn("catch-up daily log for %s: %v", date, err)
		}
	}

	prevMonth := today.AddDate(0, -1, 0).Format("2006-01")
	monthPath := filepath.Join(g.paths.MonthlyLogsDir, prevMonth+".log")
	if _, err := os.Stat(monthPath); err != nil {
		if err := g.GenerateMonthly(ctx, prevMonth); err != nil {
			g.logger.Warn("catch-up monthly log for %s: %v", prevMonth, err)
		}
	}

	if _, err := g.CleanupOld(ctx); err != nil {
		g.logger.Warn("log retention cleanup: %v", err)
	}
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds) * time.Second
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
