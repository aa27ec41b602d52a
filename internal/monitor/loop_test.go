package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/config"
	"loupe/internal/focus"
	"loupe/internal/ingest"
	"loupe/internal/logging"
	"loupe/internal/notify"
	"loupe/internal/probe"
	"loupe/internal/rules"
	"loupe/internal/store"
)

// fakeProber is a scriptable Prober; tests mutate its fields between ticks.
type fakeProber struct {
	locked    bool
	idle      float64
	window    *probe.WindowInfo
	minimized []uintptr
}

func (f *fakeProber) IsLocked() bool                         { return f.locked }
func (f *fakeProber) IdleSeconds() float64                   { return f.idle }
func (f *fakeProber) ActiveWindow() (*probe.WindowInfo, bool) { return f.window, f.window != nil }
func (f *fakeProber) PlaySoundFile(string) error             { return nil }

func (f *fakeProber) MinimizeWindow(hwnd uintptr) error {
	f.minimized = append(f.minimized, hwnd)
	return nil
}

type fakeURLs struct {
	frame ingest.Frame
	ok    bool
}

func (f *fakeURLs) Latest() (ingest.Frame, bool) { return f.frame, f.ok }

type loopHarness struct {
	loop    *Loop
	store   *store.Store
	prober  *fakeProber
	urls    *fakeURLs
	engine  *rules.Engine
	updates []Update
}

func newLoopHarness(t *testing.T) *loopHarness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := store.Open(ctx, filepath.Join(dir, "test.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	paths, err := config.NewPaths(dir)
	require.NoError(t, err)

	prober := &fakeProber{}
	engine, err := rules.NewEngine(ctx, s, logging.Nop(), nil)
	require.NoError(t, err)
	enforcer, err := focus.NewEnforcer(ctx, s, prober, logging.Nop(), nil)
	require.NoError(t, err)
	notifier, err := notify.NewNotifier(ctx, s, prober, paths, logging.Nop(), nil)
	require.NoError(t, err)

	urls := &fakeURLs{}
	h := &loopHarness{store: s, prober: prober, urls: urls, engine: engine}
	h.loop = NewLoop(Options{
		Store:    s,
		Engine:   engine,
		Prober:   prober,
		URLs:     urls,
		Enforcer: enforcer,
		Notifier: notifier,
		Logger:   logging.Nop(),
		OnUpdate: func(u Update) { h.updates = append(h.updates, u) },
	})
	return h
}

func (h *loopHarness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.loop.tick(context.Background()))
}

func (h *loopHarness) setWindow(process, title string) {
	h.prober.locked = false
	h.prober.window = &probe.WindowInfo{ProcessName: process, Title: title, HWND: 0x42}
}

// addRule creates a tag and an enabled rule matching the given process glob.
func (h *loopHarness) addRule(t *testing.T, tagName, pattern string, priority int) int64 {
	t.Helper()
	ctx := context.Background()
	tagID, err := h.store.CreateTag(ctx, store.Tag{Name: tagName, Color: "#112233"})
	require.NoError(t, err)
	_, err = h.store.CreateRule(ctx, store.Rule{
		Name: tagName + " rule", Priority: priority, Enabled: true,
		TagID: tagID, ProcessPattern: pattern,
	})
	require.NoError(t, err)
	require.NoError(t, h.engine.Reload(ctx))
	return tagID
}

func (h *loopHarness) activities(t *testing.T) []store.Activity {
	t.Helper()
	date := time.Now().Format("2006-01-02")
	list, err := h.store.ListActivities(context.Background(), date, nil)
	require.NoError(t, err)
	return list
}

func TestLockWorkSlackTransitions(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()
	workID := h.addRule(t, "Dev", "code.exe", 50)
	slackID := h.addRule(t, "Chat", "slack.exe", 40)

	h.prober.locked = true
	h.tick(t)
	h.setWindow("code.exe", "main.go - Code")
	h.tick(t)
	h.setWindow("slack.exe", "Slack - #general")
	h.tick(t)

	acts := h.activities(t)
	require.Len(t, acts, 3)
	assert.Equal(t, store.ProcessLocked, acts[0].ProcessName)
	assert.NotNil(t, acts[0].EndTime)
	assert.Equal(t, "code.exe", acts[1].ProcessName)
	require.NotNil(t, acts[1].TagID)
	assert.Equal(t, workID, *acts[1].TagID)
	assert.NotNil(t, acts[1].EndTime)
	assert.Equal(t, "slack.exe", acts[2].ProcessName)
	require.NotNil(t, acts[2].TagID)
	assert.Equal(t, slackID, *acts[2].TagID)
	assert.Nil(t, acts[2].EndTime)

	// The locked interval classified to the seeded Away tag.
	away, err := h.store.GetTagByName(ctx, store.TagAway)
	require.NoError(t, err)
	require.NotNil(t, acts[0].TagID)
	assert.Equal(t, away.ID, *acts[0].TagID)

	require.Len(t, h.updates, 3)
	assert.Equal(t, "Chat", h.updates[2].TagName)
}

func TestIdleThresholdIsStrict(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetSetting(ctx, store.SettingIdleThreshold, "300"))
	h.addRule(t, "Dev", "code.exe", 50)

	h.setWindow("code.exe", "main.go")
	h.prober.idle = 299
	h.tick(t)
	h.prober.idle = 300 // exactly at the threshold: still active
	h.tick(t)

	acts := h.activities(t)
	require.Len(t, acts, 1)
	assert.Equal(t, "code.exe", acts[0].ProcessName)

	h.prober.idle = 301
	h.tick(t)
	acts = h.activities(t)
	require.Len(t, acts, 2)
	assert.Equal(t, store.ProcessIdle, acts[1].ProcessName)
	assert.Equal(t, "Idle", acts[1].WindowTitle)
}

func TestBrowserFrameRequiresTitleMatch(t *testing.T) {
	h := newLoopHarness(t)
	h.addRule(t, "Web", "chrome.exe", 50)

	// Frame title not in the window title: background tab, URL not trusted.
	h.urls.frame = ingest.Frame{Type: "url_change", URL: "https://example.com", Title: "Other Tab"}
	h.urls.ok = true
	h.setWindow("chrome.exe", "Docs - Google Chrome")
	h.tick(t)

	acts := h.activities(t)
	require.Len(t, acts, 1)
	assert.Nil(t, acts[0].URL)

	// Matching title: the URL is attached, which is a change in itself.
	h.urls.frame = ingest.Frame{Type: "url_change", URL: "https://docs.example.com", Title: "Docs"}
	h.tick(t)
	acts = h.activities(t)
	require.Len(t, acts, 2)
	require.NotNil(t, acts[1].URL)
	assert.Equal(t, "https://docs.example.com", *acts[1].URL)
}

func TestSentinelTitleChangesAreIgnored(t *testing.T) {
	h := newLoopHarness(t)

	h.prober.locked = true
	h.tick(t)
	h.tick(t)
	h.tick(t)

	acts := h.activities(t)
	require.Len(t, acts, 1)
	assert.Nil(t, acts[0].EndTime)
}

func TestSameWindowTitleChangeOpensNewActivity(t *testing.T) {
	h := newLoopHarness(t)
	h.addRule(t, "Dev", "code.exe", 50)

	h.setWindow("code.exe", "a.go - Code")
	h.tick(t)
	h.tick(t) // unchanged
	h.setWindow("code.exe", "b.go - Code")
	h.tick(t)

	acts := h.activities(t)
	require.Len(t, acts, 2)
	assert.Equal(t, "a.go - Code", acts[0].WindowTitle)
	assert.Equal(t, "b.go - Code", acts[1].WindowTitle)
}

func TestAtMostOneOpenActivity(t *testing.T) {
	h := newLoopHarness(t)
	h.addRule(t, "Dev", "code.exe", 50)

	h.setWindow("code.exe", "a")
	h.tick(t)
	h.setWindow("code.exe", "b")
	h.tick(t)
	h.prober.window = nil
	h.tick(t)
	h.prober.locked = true
	h.tick(t)

	n, err := h.store.OpenActivityCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnknownWindowFallsBack(t *testing.T) {
	h := newLoopHarness(t)

	h.prober.window = nil
	h.tick(t)

	acts := h.activities(t)
	require.Len(t, acts, 1)
	assert.Equal(t, store.ProcessUnknown, acts[0].ProcessName)
	assert.Equal(t, "Unknown", acts[0].WindowTitle)
}

func TestBlockedWindowReMinimisedEachTick(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()
	tagID := h.addRule(t, "Games", "game.exe", 50)

	require.NoError(t, h.store.UpdateTagBlock(ctx, tagID, true, "00:00", "23:59"))
	require.NoError(t, h.loop.enforcer.Reload(ctx))

	h.setWindow("game.exe", "Game")
	h.tick(t)
	h.tick(t)
	h.tick(t)

	// Minimised on the opening tick and again on every unchanged tick.
	assert.Len(t, h.prober.minimized, 3)
	acts := h.activities(t)
	require.Len(t, acts, 1)
}

func TestPauseClosesCurrentAndStopsSampling(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()
	h.addRule(t, "Dev", "code.exe", 50)

	h.setWindow("code.exe", "a")
	h.tick(t)

	h.loop.Pause()
	assert.True(t, h.loop.Paused())
	assert.True(t, h.loop.handlePaused(ctx))

	n, err := h.store.OpenActivityCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.loop.Resume()
	assert.False(t, h.loop.handlePaused(ctx))
	h.tick(t)
	acts := h.activities(t)
	require.Len(t, acts, 2)
}

func TestRunStopClosesOpenActivity(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetSetting(ctx, store.SettingPollingInterval, "0.01"))
	h.addRule(t, "Dev", "code.exe", 50)
	h.setWindow("code.exe", "a")

	done := make(chan struct{})
	go func() {
		_ = h.loop.Run(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		n, err := h.store.OpenActivityCount(ctx)
		require.NoError(t, err)
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("loop never opened an activity")
		case <-time.After(10 * time.Millisecond):
		}
	}

	require.True(t, h.loop.Stop(2*time.Second))
	<-done

	n, err := h.store.OpenActivityCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRequestDBCloseAcknowledged(t *testing.T) {
	h := newLoopHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetSetting(ctx, store.SettingPollingInterval, "0.01"))

	go func() { _ = h.loop.Run(context.Background()) }()
	t.Cleanup(func() { h.loop.Stop(time.Second) })

	assert.True(t, h.loop.RequestDBClose(2*time.Second))
	n, err := h.store.OpenActivityCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
