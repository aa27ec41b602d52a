package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// insertActivityAt inserts a row with explicit timestamps, bypassing
// CreateActivity's wall-clock start.
func insertActivityAt(t *testing.T, s *Store, start time.Time, end *time.Time, process, title string, tagID *int64) int64 {
	t.Helper()
	var endVal any
	if end != nil {
		endVal = formatTime(*end)
	}
	res, err := s.db.Exec(
		`INSERT INTO activities (start_time, end_time, process_name, window_title, tag_id)
         VALUES (?, ?, ?, ?, ?)`,
		formatTime(start), endVal, process, title, nullInt(tagID))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestOpenSeedsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	away, err := s.GetTagByName(ctx, TagAway)
	require.NoError(t, err)
	assert.Equal(t, "#9E9E9E", away.Color)

	unclassified, err := s.GetTagByName(ctx, TagUnclassified)
	require.NoError(t, err)
	assert.Equal(t, "#BDBDBD", unclassified.Color)

	rules, err := s.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	// Priority descending: the lock rule outranks the idle rule.
	assert.Equal(t, 100, rules[0].Priority)
	assert.Equal(t, ProcessLocked, rules[0].ProcessPattern)
	assert.Equal(t, away.ID, rules[0].TagID)
	assert.Equal(t, 90, rules[1].Priority)
	assert.Equal(t, ProcessIdle, rules[1].ProcessPattern)
}

func TestReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s, err := Open(ctx, path, logging.Nop())
	require.NoError(t, err)

	// Make a user change that seeding must not clobber.
	work, err := s.GetTagByName(ctx, "Work")
	require.NoError(t, err)
	work.Color = "#123456"
	require.NoError(t, s.UpdateTag(ctx, work))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, logging.Nop())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 4)

	work, err = s.GetTagByName(ctx, "Work")
	require.NoError(t, err)
	assert.Equal(t, "#123456", work.Color)

	rules, err := s.ListRules(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestRepairOpenActivities(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	ctx := context.Background()

	s, err := Open(ctx, path, logging.Nop())
	require.NoError(t, err)

	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	insertActivityAt(t, s, base, nil, "code.exe", "main.go", nil)
	insertActivityAt(t, s, base.Add(30*time.Second), nil, "chrome.exe", "docs", nil)

	repaired, err := s.RepairOpenActivities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repaired)

	open, err := s.OpenActivityCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, open)

	acts, err := s.ListActivities(ctx, "2026-03-14", nil)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	require.NotNil(t, acts[0].EndTime)
	require.NotNil(t, acts[1].EndTime)
	assert.Equal(t, base.Add(60*time.Second), *acts[0].EndTime)
	assert.Equal(t, base.Add(90*time.Second), *acts[1].EndTime)

	// Nothing left to repair on a second pass.
	repaired, err = s.RepairOpenActivities(ctx)
	require.NoError(t, err)
	assert.Zero(t, repaired)
	require.NoError(t, s.Close())
}

func TestEndActivityIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateActivity(ctx, NewActivity{ProcessName: "code.exe", WindowTitle: "main.go", TagID: 1})
	require.NoError(t, err)
	require.NoError(t, s.EndActivity(ctx, id))

	// Overwrite the end with a recognisable value; a second EndActivity
	// must not touch the already-closed row.
	marker := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	_, err = s.db.Exec(`UPDATE activities SET end_time = ? WHERE id = ?`, formatTime(marker), id)
	require.NoError(t, err)

	require.NoError(t, s.EndActivity(ctx, id))

	a, err := s.GetActivity(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, a.EndTime)
	assert.Equal(t, marker, *a.EndTime)
}

func TestDeleteTagNullsActivityAndCascadesRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tagID, err := s.CreateTag(ctx, Tag{Name: "Games"})
	require.NoError(t, err)
	ruleID, err := s.CreateRule(ctx, Rule{Name: "steam", Priority: 10, Enabled: true, TagID: tagID, ProcessPattern: "steam.exe"})
	require.NoError(t, err)

	actID, err := s.CreateActivity(ctx, NewActivity{ProcessName: "steam.exe", WindowTitle: "Store", TagID: tagID, RuleID: &ruleID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTag(ctx, tagID))

	a, err := s.GetActivity(ctx, actID)
	require.NoError(t, err)
	assert.Nil(t, a.TagID)
	assert.Nil(t, a.RuleID)

	_, err = s.GetRule(ctx, ruleID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsDefaultsAndRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.Equal(t, 2, s.SettingInt(ctx, SettingPollingInterval, 2))
	assert.Equal(t, 300.0, s.SettingFloat(ctx, SettingIdleThreshold, 300))

	require.NoError(t, s.SetSetting(ctx, SettingPollingInterval, "5"))
	require.NoError(t, s.SetSetting(ctx, SettingPollingInterval, "7")) // upsert
	assert.Equal(t, 7, s.SettingInt(ctx, SettingPollingInterval, 2))

	all, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", all[SettingPollingInterval])
	assert.Equal(t, "300", all[SettingIdleThreshold]) // default fills unset keys

	assert.True(t, s.SettingBool(ctx, SettingAlertToastEnabled, true))
	require.NoError(t, s.SetSetting(ctx, SettingAlertToastEnabled, "0"))
	assert.False(t, s.SettingBool(ctx, SettingAlertToastEnabled, true))
}

func TestEnsureTagSelfHeals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	unclassified, err := s.GetTagByName(ctx, TagUnclassified)
	require.NoError(t, err)
	require.NoError(t, s.DeleteTag(ctx, unclassified.ID))

	healed, err := s.EnsureTag(ctx, TagUnclassified, "#BDBDBD", "other")
	require.NoError(t, err)
	assert.Equal(t, TagUnclassified, healed.Name)
	assert.Equal(t, "#BDBDBD", healed.Color)
	assert.NotEqual(t, unclassified.ID, healed.ID)

	// Present tag: EnsureTag is a lookup, not a second insert.
	again, err := s.EnsureTag(ctx, TagUnclassified, "#FFFFFF", "work")
	require.NoError(t, err)
	assert.Equal(t, healed.ID, again.ID)
	assert.Equal(t, "#BDBDBD", again.Color)
}

func TestCheckIntegrity(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.CheckIntegrity(context.Background()))
}
