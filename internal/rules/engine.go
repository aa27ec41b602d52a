package rules

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"

	"loupe/internal/logging"
	"loupe/internal/observability"
	"loupe/internal/store"
)

// Observation is the tuple the monitor loop builds each tick and submits for
// classification.
type Observation struct {
	ProcessName    string
	WindowTitle    string
	URL            string
	BrowserProfile string
	ProcessPath    string
}

// Match is the classification result. RuleID is nil when no rule matched and
// the observation fell through to the Unclassified tag.
type Match struct {
	TagID   int64
	TagName string
	RuleID  *int64
}

// matchCacheSize bounds the per-snapshot memoization cache. Foreground
// windows repeat heavily, so even a small cache absorbs most ticks.
const matchCacheSize = 512

// compiledRule is one enabled rule with its pattern slots pre-compiled.
// A slot left empty compiles to no matchers and can never match.
type compiledRule struct {
	rule     store.Rule
	process  []glob.Glob
	url      []glob.Glob
	title    []glob.Glob
	path     []glob.Glob
	profiles []string
}

// snapshot is one immutable generation of the rule cache. Reload builds a
// fresh snapshot and swaps the pointer, so an in-flight classification keeps
// a consistent view and the memo cache dies with its generation.
type snapshot struct {
	rules []compiledRule
	memo  *lru.Cache[Observation, Match]
}

// Engine maps observations to tags by walking the enabled rules in priority
// order. Matching is lock-free against the current snapshot; Reload swaps in
// a new one after tag or rule mutations.
type Engine struct {
	store   *store.Store
	logger  logging.Logger
	metrics *observability.MetricsCollector
	current atomic.Pointer[snapshot]
}

// NewEngine builds an engine and loads the initial rule snapshot.
func NewEngine(ctx context.Context, st *store.Store, logger logging.Logger, metrics *observability.MetricsCollector) (*Engine, error) {
	e := &Engine{
		store:   st,
		logger:  logging.OrNop(logger),
		metrics: metrics,
	}
	if e.metrics == nil {
		e.metrics = &observability.MetricsCollector{}
	}
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the enabled rules and replaces the snapshot. Patterns that
// fail to compile degrade that slot with a warning; the rule's other slots
// stay live.
func (e *Engine) Reload(ctx context.Context) error {
	ruleRows, err := e.store.ListRules(ctx, true)
	if err != nil {
		return fmt.Errorf("reloading rules: %w", err)
	}

	compiled := make([]compiledRule, 0, len(ruleRows))
	for _, r := range ruleRows {
		cr := compiledRule{rule: r}
		cr.process = e.compileSlot(r, "process", r.ProcessPattern)
		cr.url = e.compileSlot(r, "url", r.URLPattern)
		cr.title = e.compileSlot(r, "title", r.TitlePattern)
		cr.path = e.compileSlot(r, "path", r.ProcessPathPattern)
		for _, alt := range splitAlternates(r.BrowserProfile) {
			cr.profiles = append(cr.profiles, alt)
		}
		compiled = append(compiled, cr)
	}

	memo, err := lru.New[Observation, Match](matchCacheSize)
	if err != nil {
		return fmt.Errorf("building match cache: %w", err)
	}
	e.current.Store(&snapshot{rules: compiled, memo: memo})
	e.logger.Debug("rule cache reloaded: %d enabled rules", len(compiled))
	return nil
}

func (e *Engine) compileSlot(r store.Rule, slot, pattern string) []glob.Glob {
	alternates := splitAlternates(pattern)
	if len(alternates) == 0 {
		return nil
	}
	globs := make([]glob.Glob, 0, len(alternates))
	for _, alt := range alternates {
		g, err := glob.Compile(alt)
		if err != nil {
			e.logger.Warn("rule %q (%d): bad %s pattern %q skipped: %v", r.Name, r.ID, slot, alt, err)
			continue
		}
		globs = append(globs, g)
	}
	return globs
}

// splitAlternates breaks a comma-separated pattern slot into trimmed,
// non-empty alternates.
func splitAlternates(pattern string) []string {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(pattern, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Match classifies an observation. It walks the snapshot priority-descending;
// a rule matches when any populated slot matches its observation field, and
// the first match wins. No match resolves to the Unclassified tag, which is
// recreated on demand if a user deleted it.
func (e *Engine) Match(ctx context.Context, obs Observation) (Match, error) {
	snap := e.current.Load()
	if snap == nil {
		return e.unclassified(ctx)
	}
	if m, ok := snap.memo.Get(obs); ok {
		return m, nil
	}

	for _, cr := range snap.rules {
		if !cr.matches(obs) {
			continue
		}
		tag, err := e.store.GetTag(ctx, cr.rule.TagID)
		if err != nil {
			// Target tag vanished between reloads; fall through to the
			// remaining rules rather than failing the classification.
			e.logger.Warn("rule %q targets missing tag %d: %v", cr.rule.Name, cr.rule.TagID, err)
			continue
		}
		ruleID := cr.rule.ID
		m := Match{TagID: tag.ID, TagName: tag.Name, RuleID: &ruleID}
		snap.memo.Add(obs, m)
		e.metrics.RecordMatch(ctx, "rule")
		return m, nil
	}

	m, err := e.unclassified(ctx)
	if err != nil {
		return Match{}, err
	}
	snap.memo.Add(obs, m)
	e.metrics.RecordMatch(ctx, "unclassified")
	return m, nil
}

func (e *Engine) unclassified(ctx context.Context) (Match, error) {
	tag, err := e.store.EnsureTag(ctx, store.TagUnclassified, "#BDBDBD", "other")
	if err != nil {
		return Match{}, fmt.Errorf("resolving unclassified tag: %w", err)
	}
	return Match{TagID: tag.ID, TagName: tag.Name}, nil
}

// matches tests the rule's populated slots with OR semantics. Empty slots
// match nothing, so a rule with no patterns at all never fires.
func (cr *compiledRule) matches(obs Observation) bool {
	if matchAny(cr.process, obs.ProcessName) {
		return true
	}
	if obs.URL != "" && matchAny(cr.url, obs.URL) {
		return true
	}
	if matchAny(cr.title, obs.WindowTitle) {
		return true
	}
	if matchAny(cr.path, obs.ProcessPath) {
		return true
	}
	if obs.BrowserProfile != "" {
		for _, p := range cr.profiles {
			if p == obs.BrowserProfile {
				return true
			}
		}
	}
	return false
}

func matchAny(globs []glob.Glob, value string) bool {
	if value == "" {
		return false
	}
	for _, g := range globs {
		if g.Match(value) {
			return true
		}
	}
	return false
}
