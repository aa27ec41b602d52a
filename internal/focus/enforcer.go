package focus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"loupe/internal/logging"
	"loupe/internal/observability"
	"loupe/internal/store"
)

// ErrReasonTooShort is returned when an emergency reset carries a reason
// shorter than the required minimum.
var ErrReasonTooShort = errors.New("emergency reset reason must be at least 10 characters")

// ErrBlockedWindow is returned when a block-config mutation is attempted
// while the tag's block window is active.
var ErrBlockedWindow = errors.New("cannot modify block settings during an active block window")

// neverBlock lists process names the enforcer refuses to touch, so the
// tracker cannot minimise itself or its development entrypoints.
var neverBlock = []string{"loupe.exe", "loupe", "go.exe", "dlv.exe"}

// Minimizer issues the OS minimise call. Satisfied by probe.Prober.
type Minimizer interface {
	MinimizeWindow(hwnd uintptr) error
}

// window is one tag's block interval at minute resolution.
type window struct {
	start, end string // "HH:MM"
}

// Enforcer minimises windows of blocked tags inside their configured hours.
// The blocked-tag map is an immutable snapshot swapped on Reload, so
// Consider never takes a lock.
type Enforcer struct {
	store     *store.Store
	minimizer Minimizer
	logger    logging.Logger
	metrics   *observability.MetricsCollector
	blocked   atomic.Pointer[map[int64]window]

	// now is swappable for tests.
	now func() time.Time
}

// NewEnforcer builds an enforcer and loads the initial block map.
func NewEnforcer(ctx context.Context, st *store.Store, minimizer Minimizer, logger logging.Logger, metrics *observability.MetricsCollector) (*Enforcer, error) {
	e := &Enforcer{
		store:     st,
		minimizer: minimizer,
		logger:    logging.OrNop(logger),
		metrics:   metrics,
		now:       time.Now,
	}
	if e.metrics == nil {
		e.metrics = &observability.MetricsCollector{}
	}
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload rebuilds the blocked-tag map from the tag table. A tag enters the
// map only when its block flag is set and both times parse; a flag with
// missing or malformed times does not block, so a misconfigured UI cannot
// lock the user out. Reserved tags never block.
func (e *Enforcer) Reload(ctx context.Context) error {
	tags, err := e.store.ListTags(ctx)
	if err != nil {
		return fmt.Errorf("reloading block map: %w", err)
	}

	blocked := make(map[int64]window)
	for _, t := range tags {
		if !t.BlockEnabled || t.Reserved() {
			continue
		}
		if !validClock(t.BlockStart) || !validClock(t.BlockEnd) {
			if t.BlockStart != "" || t.BlockEnd != "" {
				e.logger.Warn("tag %q has unusable block times %q-%q, not blocking", t.Name, t.BlockStart, t.BlockEnd)
			}
			continue
		}
		blocked[t.ID] = window{start: t.BlockStart, end: t.BlockEnd}
	}
	e.blocked.Store(&blocked)
	e.logger.Debug("block map reloaded: %d blocked tags", len(blocked))
	return nil
}

// Consider minimises hwnd when tagID is inside its block window right now.
// Processes on the never-block list are left alone. Minimise failures are
// logged and swallowed.
func (e *Enforcer) Consider(ctx context.Context, tagID int64, hwnd uintptr, processName string) {
	lower := strings.ToLower(processName)
	for _, name := range neverBlock {
		if lower == name {
			return
		}
	}
	if !e.BlockedNow(tagID) || hwnd == 0 {
		return
	}
	if err := e.minimizer.MinimizeWindow(hwnd); err != nil {
		e.logger.Warn("minimising window %#x for tag %d: %v", hwnd, tagID, err)
		return
	}
	e.metrics.RecordMinimize(ctx)
	e.logger.Debug("minimised window %#x (tag %d, process %s)", hwnd, tagID, processName)
}

// BlockedNow reports whether the tag's block window covers the current
// wall-clock minute.
func (e *Enforcer) BlockedNow(tagID int64) bool {
	blocked := e.blocked.Load()
	if blocked == nil {
		return false
	}
	w, ok := (*blocked)[tagID]
	if !ok {
		return false
	}
	return InWindow(w.start, w.end, e.now())
}

// BlockedTags returns the ids currently carrying an enforceable block
// window, for the façade's focus status payload.
func (e *Enforcer) BlockedTags() []int64 {
	blocked := e.blocked.Load()
	if blocked == nil {
		return nil
	}
	ids := make([]int64, 0, len(*blocked))
	for id := range *blocked {
		ids = append(ids, id)
	}
	return ids
}

// CheckMutable returns ErrBlockedWindow when the tag's own block window is
// active, which is when the façade must refuse block-config updates.
func (e *Enforcer) CheckMutable(tag store.Tag) error {
	if !tag.BlockEnabled {
		return nil
	}
	if !validClock(tag.BlockStart) || !validClock(tag.BlockEnd) {
		return nil
	}
	if InWindow(tag.BlockStart, tag.BlockEnd, e.now()) {
		return ErrBlockedWindow
	}
	return nil
}

// EmergencyReset clears the block flag on every tag after validating the
// supplied reason, logs the reason for the audit trail, and reloads.
func (e *Enforcer) EmergencyReset(ctx context.Context, reason string) (int, error) {
	if len(strings.TrimSpace(reason)) < 10 {
		return 0, ErrReasonTooShort
	}
	cleared, err := e.store.ClearAllBlocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("emergency reset: %w", err)
	}
	e.logger.Warn("emergency reset: cleared %d block flags, reason: %s", cleared, reason)
	if err := e.Reload(ctx); err != nil {
		return cleared, err
	}
	return cleared, nil
}

// InWindow tests whether now's wall-clock minute lies in [start, end).
// start ≤ end means within the same day; start > end wraps midnight
// (22:00→02:00 covers 23:00 and 01:00 but not 02:00).
func InWindow(start, end string, now time.Time) bool {
	s, okS := clockMinutes(start)
	e, okE := clockMinutes(end)
	if !okS || !okE {
		return false
	}
	n := now.Hour()*60 + now.Minute()
	if s <= e {
		return s <= n && n < e
	}
	return n >= s || n < e
}

func validClock(v string) bool {
	_, ok := clockMinutes(v)
	return ok
}

func clockMinutes(v string) (int, bool) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
