package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"loupe/internal/async"
	"loupe/internal/daylog"
	"loupe/internal/focus"
	"loupe/internal/ingest"
	"loupe/internal/logging"
	"loupe/internal/notify"
	"loupe/internal/observability"
	"loupe/internal/probe"
	"loupe/internal/rules"
	"loupe/internal/store"
)

// Update is published on every activity transition, carrying what the
// façade's WebSocket clients need to render the live view.
type Update struct {
	ActivityID     int64     `json:"activity_id"`
	ProcessName    string    `json:"process_name"`
	WindowTitle    string    `json:"window_title"`
	URL            string    `json:"url,omitempty"`
	BrowserProfile string    `json:"browser_profile,omitempty"`
	TagID          int64     `json:"tag_id"`
	TagName        string    `json:"tag_name"`
	StartTime      time.Time `json:"start_time"`
}

// URLSource exposes the latest browser-extension frame. Satisfied by
// *ingest.Server; nil means the ingester failed to start and the loop runs
// without URL data.
type URLSource interface {
	Latest() (ingest.Frame, bool)
}

// sample is the observation tuple built each tick.
type sample struct {
	process string
	title   string
	url     string
	profile string
	path    string
	hwnd    uintptr
}

// sentinel reports whether the sample stands in for a real window.
func (s sample) sentinel() bool {
	return s.process == store.ProcessLocked || s.process == store.ProcessIdle
}

// Loop is the sampling state machine: one goroutine that merges the probe,
// idle state and latest URL into activity intervals, and drives the store,
// rule engine, notifier and focus enforcer.
type Loop struct {
	store    *store.Store
	engine   *rules.Engine
	prober   probe.Prober
	urls     URLSource
	enforcer *focus.Enforcer
	notifier *notify.Notifier
	daylog   *daylog.Generator
	logger   logging.Logger
	metrics  *observability.MetricsCollector

	// onUpdate is invoked after an activity row is opened. Must not block.
	onUpdate func(Update)

	// Loop-goroutine state; tests drive tick directly so these are plain
	// fields, never shared with another goroutine.
	last              *sample
	currentActivityID int64
	currentTagID      int64
	currentHWND       uintptr
	lastDate          string

	mu          sync.Mutex
	paused      bool
	releaseWait chan struct{} // non-nil while a RequestDBClose is pending

	stopOnce sync.Once
	stopc    chan struct{}
	donec    chan struct{}

	now func() time.Time
}

// Options wires the loop's collaborators. URLs, Daylog, OnUpdate and Metrics
// are optional.
type Options struct {
	Store    *store.Store
	Engine   *rules.Engine
	Prober   probe.Prober
	URLs     URLSource
	Enforcer *focus.Enforcer
	Notifier *notify.Notifier
	Daylog   *daylog.Generator
	Logger   logging.Logger
	Metrics  *observability.MetricsCollector
	OnUpdate func(Update)
}

// NewLoop builds the monitor loop.
func NewLoop(opts Options) *Loop {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}
	return &Loop{
		store:    opts.Store,
		engine:   opts.Engine,
		prober:   opts.Prober,
		urls:     opts.URLs,
		enforcer: opts.Enforcer,
		notifier: opts.Notifier,
		daylog:   opts.Daylog,
		logger:   logging.OrNop(opts.Logger),
		metrics:  metrics,
		onUpdate: opts.OnUpdate,
		stopc:    make(chan struct{}),
		donec:    make(chan struct{}),
		now:      time.Now,
	}
}

// SetOnUpdate installs the transition publish hook. Call before Run; the
// façade is built after the loop, so the hub cannot be wired in NewLoop.
func (l *Loop) SetOnUpdate(fn func(Update)) {
	l.onUpdate = fn
}

// Run drives the loop until ctx is cancelled or Stop is called. A failing
// tick is logged and the loop sleeps one period; it never exits on a
// recoverable error.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.donec)
	l.lastDate = l.now().Format("2006-01-02")
	l.logger.Info("monitor loop started")

	for {
		interval := l.pollingInterval(ctx)
		select {
		case <-ctx.Done():
			l.shutdown(context.WithoutCancel(ctx))
			return nil
		case <-l.stopc:
			l.shutdown(context.WithoutCancel(ctx))
			return nil
		case <-time.After(interval):
		}

		if l.handlePaused(ctx) {
			continue
		}

		start := l.now()
		if err := l.safeTick(ctx); err != nil {
			l.logger.Error("monitor tick failed: %v", err)
		}
		l.metrics.RecordTick(ctx, l.now().Sub(start))
	}
}

func (l *Loop) shutdown(ctx context.Context) {
	l.closeCurrent(ctx)
	l.signalReleased()
	l.logger.Info("monitor loop stopped")
}

// handlePaused closes the current activity on entering pause and
// acknowledges a pending store release. Returns true while paused.
func (l *Loop) handlePaused(ctx context.Context) bool {
	l.mu.Lock()
	paused := l.paused
	l.mu.Unlock()
	if !paused {
		return false
	}
	l.closeCurrent(ctx)
	l.signalReleased()
	return true
}

func (l *Loop) signalReleased() {
	l.mu.Lock()
	if l.releaseWait != nil {
		close(l.releaseWait)
		l.releaseWait = nil
	}
	l.mu.Unlock()
}

// Stop signals the loop and waits for it to finish, abandoning it at the
// deadline. The current activity is closed on the way out.
func (l *Loop) Stop(timeout time.Duration) bool {
	l.stopOnce.Do(func() { close(l.stopc) })
	select {
	case <-l.donec:
		return true
	case <-time.After(timeout):
		l.logger.Warn("monitor loop did not stop within %s, abandoning", timeout)
		return false
	}
}

// Pause stops sampling; the next iteration closes the current activity and
// the loop idles until Resume.
func (l *Loop) Pause() {
	l.mu.Lock()
	l.paused = true
	l.mu.Unlock()
	l.logger.Info("monitoring paused")
}

// Resume restarts sampling.
func (l *Loop) Resume() {
	l.mu.Lock()
	l.paused = false
	l.mu.Unlock()
	l.logger.Info("monitoring resumed")
}

// Paused reports the control-plane state for the health payload.
func (l *Loop) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}

// RequestDBClose pauses the loop and waits until it has finished its store
// work, so the caller can close and swap the database. Returns false when
// the loop did not acknowledge within the timeout.
func (l *Loop) RequestDBClose(timeout time.Duration) bool {
	l.mu.Lock()
	l.paused = true
	if l.releaseWait == nil {
		l.releaseWait = make(chan struct{})
	}
	wait := l.releaseWait
	l.mu.Unlock()

	select {
	case <-wait:
		return true
	case <-l.donec:
		return true
	case <-time.After(timeout):
		return false
	}
}

// pollingInterval re-reads the tick period every iteration so settings
// changes apply without a restart.
func (l *Loop) pollingInterval(ctx context.Context) time.Duration {
	seconds := l.store.SettingFloat(ctx, store.SettingPollingInterval, 2)
	if seconds <= 0 {
		seconds = 2
	}
	return time.Duration(seconds * float64(time.Second))
}

// safeTick wraps tick with panic recovery: a bug in a probe or collaborator
// must not take the daemon down.
func (l *Loop) safeTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()
	return l.tick(ctx)
}

// tick is one pass of the sampling state machine.
func (l *Loop) tick(ctx context.Context) error {
	l.rolloverDate(ctx)

	s := l.buildSample(ctx)
	l.metrics.RecordSample(ctx, sampleKind(s))

	if !l.changed(s) {
		// Same observation: keep the open activity but let the actuators
		// run, so a re-opened blocked window is re-minimised and the
		// rate-limited alert can fire again.
		l.currentHWND = s.hwnd
		if l.currentTagID != 0 {
			l.notifier.Maybe(ctx, l.currentTagID)
			l.enforcer.Consider(ctx, l.currentTagID, l.currentHWND, s.process)
		}
		return nil
	}

	l.closeCurrent(ctx)

	match, err := l.engine.Match(ctx, rules.Observation{
		ProcessName:    s.process,
		WindowTitle:    s.title,
		URL:            s.url,
		BrowserProfile: s.profile,
		ProcessPath:    s.path,
	})
	if err != nil {
		return fmt.Errorf("classifying sample: %w", err)
	}

	id, err := l.store.CreateActivity(ctx, store.NewActivity{
		ProcessName:    s.process,
		WindowTitle:    s.title,
		URL:            optional(s.url),
		BrowserProfile: optional(s.profile),
		TagID:          match.TagID,
		RuleID:         match.RuleID,
	})
	if err != nil {
		return fmt.Errorf("opening activity: %w", err)
	}
	l.metrics.RecordActivity(ctx, "opened")

	l.last = &s
	l.currentActivityID = id
	l.currentTagID = match.TagID
	l.currentHWND = s.hwnd
	l.logger.Debug("activity %d opened: %s %q -> %s", id, s.process, s.title, match.TagName)

	if l.onUpdate != nil {
		l.onUpdate(Update{
			ActivityID:     id,
			ProcessName:    s.process,
			WindowTitle:    s.title,
			URL:            s.url,
			BrowserProfile: s.profile,
			TagID:          match.TagID,
			TagName:        match.TagName,
			StartTime:      l.now(),
		})
	}

	l.notifier.Maybe(ctx, match.TagID)
	l.enforcer.Consider(ctx, match.TagID, s.hwnd, s.process)
	return nil
}

// rolloverDate schedules yesterday's daily log when the local date changes
// under a running loop.
func (l *Loop) rolloverDate(ctx context.Context) {
	today := l.now().Format("2006-01-02")
	if today == l.lastDate {
		return
	}
	yesterday := l.lastDate
	l.lastDate = today
	if l.daylog == nil {
		return
	}
	l.logger.Info("date rolled over to %s, generating log for %s", today, yesterday)
	async.Go(l.logger, "daylog", func() {
		if err := l.daylog.GenerateDaily(context.WithoutCancel(ctx), yesterday); err != nil {
			l.logger.Warn("generating daily log for %s: %v", yesterday, err)
		}
	})
}

// buildSample merges lock state, idle time, the foreground window and the
// latest extension frame into one observation.
func (l *Loop) buildSample(ctx context.Context) sample {
	if l.prober.IsLocked() {
		return sample{process: store.ProcessLocked, title: "Screen Locked"}
	}

	threshold := l.store.SettingFloat(ctx, store.SettingIdleThreshold, 300)
	// Exactly at the threshold is not idle; strictly greater is.
	if l.prober.IdleSeconds() > threshold {
		return sample{process: store.ProcessIdle, title: "Idle"}
	}

	w, ok := l.prober.ActiveWindow()
	if !ok {
		return sample{process: store.ProcessUnknown, title: "Unknown"}
	}

	s := sample{
		process: w.ProcessName,
		title:   w.Title,
		profile: w.BrowserProfile,
		path:    w.ProcessPath,
		hwnd:    w.HWND,
	}
	if probe.IsBrowser(w.ProcessName) && l.urls != nil {
		if frame, ok := l.urls.Latest(); ok {
			// The extension may be reporting a background tab; only trust
			// the frame when its title is visible in the foreground window.
			if frame.Title != "" && strings.Contains(w.Title, frame.Title) {
				s.url = frame.URL
				if s.profile == "" {
					s.profile = frame.ProfileName
				}
			}
		}
	}
	return s
}

// changed reports whether s opens a new activity: a different process always
// changes; an unchanged sentinel process never does, whatever its title; a
// real process changes when title or URL differ.
func (l *Loop) changed(s sample) bool {
	if l.last == nil {
		return true
	}
	if l.last.process != s.process {
		return true
	}
	if s.sentinel() {
		return false
	}
	return l.last.title != s.title || l.last.url != s.url
}

// closeCurrent ends the open activity, if any.
func (l *Loop) closeCurrent(ctx context.Context) {
	if l.currentActivityID == 0 {
		return
	}
	if err := l.store.EndActivity(ctx, l.currentActivityID); err != nil {
		l.logger.Error("closing activity %d: %v", l.currentActivityID, err)
	} else {
		l.metrics.RecordActivity(ctx, "closed")
		l.logger.Debug("activity %d closed", l.currentActivityID)
	}
	l.currentActivityID = 0
	l.currentTagID = 0
	l.currentHWND = 0
	l.last = nil
}

func sampleKind(s sample) string {
	switch s.process {
	case store.ProcessLocked:
		return "locked"
	case store.ProcessIdle:
		return "idle"
	case store.ProcessUnknown:
		return "unknown"
	default:
		return "window"
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
