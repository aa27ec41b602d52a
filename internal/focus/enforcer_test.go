package focus

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/logging"
	"loupe/internal/store"
)

type fakeMinimizer struct {
	calls []uintptr
	err   error
}

func (f *fakeMinimizer) MinimizeWindow(hwnd uintptr) error {
	f.calls = append(f.calls, hwnd)
	return f.err
}

func newTestEnforcer(t *testing.T) (*Enforcer, *store.Store, *fakeMinimizer) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	min := &fakeMinimizer{}
	e, err := NewEnforcer(ctx, s, min, logging.Nop(), nil)
	require.NoError(t, err)
	return e, s, min
}

func blockedTag(t *testing.T, s *store.Store, e *Enforcer, name, start, end string) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateTag(ctx, store.Tag{Name: name, BlockEnabled: true, BlockStart: start, BlockEnd: end})
	require.NoError(t, err)
	require.NoError(t, e.Reload(ctx))
	return id
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 5, 20, hour, minute, 0, 0, time.Local)
}

func TestInWindow(t *testing.T) {
	cases := []struct {
		name       string
		start, end string
		now        time.Time
		want       bool
	}{
		{"inside same-day window", "09:00", "18:00", at(10, 0), true},
		{"inclusive start", "09:00", "18:00", at(9, 0), true},
		{"exclusive end", "09:00", "18:00", at(18, 0), false},
		{"before window", "09:00", "18:00", at(8, 59), false},
		{"wrap active late evening", "22:00", "02:00", at(23, 0), true},
		{"wrap active after midnight", "22:00", "02:00", at(1, 0), true},
		{"wrap inactive at end", "22:00", "02:00", at(2, 0), false},
		{"wrap inactive midday", "22:00", "02:00", at(12, 0), false},
		{"wrap inclusive start", "22:00", "02:00", at(22, 0), true},
		{"malformed start", "9am", "18:00", at(10, 0), false},
		{"empty times", "", "", at(10, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InWindow(tc.start, tc.end, tc.now))
		})
	}
}

func TestConsiderMinimizesInsideWindow(t *testing.T) {
	e, s, min := newTestEnforcer(t)
	id := blockedTag(t, s, e, "Slack", "09:00", "18:00")
	e.now = func() time.Time { return at(10, 0) }

	e.Consider(context.Background(), id, 0xBEEF, "slack.exe")
	require.Len(t, min.calls, 1)
	assert.Equal(t, uintptr(0xBEEF), min.calls[0])

	// Re-minimise on every tick, including unchanged ones.
	e.Consider(context.Background(), id, 0xBEEF, "slack.exe")
	assert.Len(t, min.calls, 2)
}

func TestConsiderSkipsOutsideWindow(t *testing.T) {
	e, s, min := newTestEnforcer(t)
	id := blockedTag(t, s, e, "Slack", "09:00", "18:00")
	e.now = func() time.Time { return at(20, 0) }

	e.Consider(context.Background(), id, 0xBEEF, "slack.exe")
	assert.Empty(t, min.calls)
}

func TestNeverBlockList(t *testing.T) {
	e, s, min := newTestEnforcer(t)
	id := blockedTag(t, s, e, "Everything", "00:00", "23:59")
	e.now = func() time.Time { return at(12, 0) }

	for _, process := range []string{"loupe.exe", "Loupe.exe", "loupe", "go.exe", "dlv.exe"} {
		e.Consider(context.Background(), id, 0xBEEF, process)
	}
	assert.Empty(t, min.calls)

	e.Consider(context.Background(), id, 0xBEEF, "slack.exe")
	assert.Len(t, min.calls, 1)
}

func TestMissingTimesDoNotBlock(t *testing.T) {
	e, s, min := newTestEnforcer(t)
	// Flag set but no times: the intentional escape hatch.
	id := blockedTag(t, s, e, "Misconfigured", "", "")
	e.now = func() time.Time { return at(12, 0) }

	assert.False(t, e.BlockedNow(id))
	e.Consider(context.Background(), id, 0xBEEF, "slack.exe")
	assert.Empty(t, min.calls)
}

func TestReservedTagsNeverBlock(t *testing.T) {
	e, s, _ := newTestEnforcer(t)
	ctx := context.Background()

	away, err := s.GetTagByName(ctx, store.TagAway)
	require.NoError(t, err)
	away.BlockEnabled = true
	away.BlockStart, away.BlockEnd = "00:00", "23:59"
	require.NoError(t, s.UpdateTag(ctx, away))
	require.NoError(t, e.Reload(ctx))

	e.now = func() time.Time { return at(12, 0) }
	assert.False(t, e.BlockedNow(away.ID))
}

func TestMinimizeFailureIsSwallowed(t *testing.T) {
	e, s, min := newTestEnforcer(t)
	id := blockedTag(t, s, e, "Slack", "09:00", "18:00")
	e.now = func() time.Time { return at(10, 0) }
	min.err = assert.AnError

	// Must not panic or propagate.
	e.Consider(context.Background(), id, 0xBEEF, "slack.exe")
	assert.Len(t, min.calls, 1)
}

func TestCheckMutable(t *testing.T) {
	e, _, _ := newTestEnforcer(t)
	tag := store.Tag{Name: "Slack", BlockEnabled: true, BlockStart: "09:00", BlockEnd: "18:00"}

	e.now = func() time.Time { return at(10, 0) }
	assert.ErrorIs(t, e.CheckMutable(tag), ErrBlockedWindow)

	e.now = func() time.Time { return at(20, 0) }
	assert.NoError(t, e.CheckMutable(tag))

	// Disabled or misconfigured blocks are always mutable.
	e.now = func() time.Time { return at(10, 0) }
	assert.NoError(t, e.CheckMutable(store.Tag{Name: "Off", BlockEnabled: false, BlockStart: "09:00", BlockEnd: "18:00"}))
	assert.NoError(t, e.CheckMutable(store.Tag{Name: "NoTimes", BlockEnabled: true}))
}

func TestEmergencyReset(t *testing.T) {
	e, s, _ := newTestEnforcer(t)
	ctx := context.Background()

	a := blockedTag(t, s, e, "A", "09:00", "18:00")
	b := blockedTag(t, s, e, "B", "22:00", "02:00")
	e.now = func() time.Time { return at(10, 0) }
	require.True(t, e.BlockedNow(a))

	_, err := e.EmergencyReset(ctx, "too short")
	assert.ErrorIs(t, err, ErrReasonTooShort)
	assert.True(t, e.BlockedNow(a))

	cleared, err := e.EmergencyReset(ctx, "need to take an urgent call")
	require.NoError(t, err)
	assert.Equal(t, 2, cleared)
	assert.False(t, e.BlockedNow(a))
	assert.False(t, e.BlockedNow(b))

	// No tag keeps the flag.
	tags, err := s.ListTags(ctx)
	require.NoError(t, err)
	for _, tag := range tags {
		assert.False(t, tag.BlockEnabled, tag.Name)
	}
}
