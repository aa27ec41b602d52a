package rules

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/logging"
	"loupe/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	e, err := NewEngine(ctx, s, logging.Nop(), nil)
	require.NoError(t, err)
	return e, s
}

func addRule(t *testing.T, s *store.Store, e *Engine, r store.Rule) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateRule(ctx, r)
	require.NoError(t, err)
	require.NoError(t, e.Reload(ctx))
	return id
}

func tagID(t *testing.T, s *store.Store, name string) int64 {
	t.Helper()
	tag, err := s.GetTagByName(context.Background(), name)
	require.NoError(t, err)
	return tag.ID
}

func TestSentinelsResolveToAway(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	away := tagID(t, s, store.TagAway)

	for _, process := range []string{store.ProcessLocked, store.ProcessIdle} {
		m, err := e.Match(ctx, Observation{ProcessName: process})
		require.NoError(t, err)
		assert.Equal(t, away, m.TagID, process)
		require.NotNil(t, m.RuleID)
	}
}

func TestPriorityOrderAndFirstMatchWins(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")
	browsing := tagID(t, s, "Browsing")

	addRule(t, s, e, store.Rule{Name: "low", Priority: 10, Enabled: true, TagID: browsing, ProcessPattern: "code.exe"})
	highID := addRule(t, s, e, store.Rule{Name: "high", Priority: 50, Enabled: true, TagID: work, ProcessPattern: "code.exe"})

	m, err := e.Match(ctx, Observation{ProcessName: "code.exe"})
	require.NoError(t, err)
	assert.Equal(t, work, m.TagID)
	require.NotNil(t, m.RuleID)
	assert.Equal(t, highID, *m.RuleID)
}

func TestEqualPriorityTiesResolveByInsertionOrder(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")
	browsing := tagID(t, s, "Browsing")

	firstID := addRule(t, s, e, store.Rule{Name: "first", Priority: 20, Enabled: true, TagID: work, TitlePattern: "*report*"})
	addRule(t, s, e, store.Rule{Name: "second", Priority: 20, Enabled: true, TagID: browsing, TitlePattern: "*report*"})

	m, err := e.Match(ctx, Observation{ProcessName: "x.exe", WindowTitle: "weekly report"})
	require.NoError(t, err)
	require.NotNil(t, m.RuleID)
	assert.Equal(t, firstID, *m.RuleID)
}

func TestSlotORSemantics(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")

	addRule(t, s, e, store.Rule{
		Name: "work", Priority: 10, Enabled: true, TagID: work,
		ProcessPattern: "code.exe",
		URLPattern:     "*github.com*",
	})

	// Either populated slot alone satisfies the rule.
	cases := []Observation{
		{ProcessName: "code.exe", WindowTitle: "anything"},
		{ProcessName: "chrome.exe", URL: "https://github.com/pulls"},
	}
	for _, obs := range cases {
		m, err := e.Match(ctx, obs)
		require.NoError(t, err)
		assert.Equal(t, work, m.TagID, "%+v", obs)
	}

	// Neither slot matches.
	m, err := e.Match(ctx, Observation{ProcessName: "chrome.exe", URL: "https://news.example.com"})
	require.NoError(t, err)
	assert.Equal(t, tagID(t, s, store.TagUnclassified), m.TagID)
	assert.Nil(t, m.RuleID)
}

func TestCommaSeparatedAlternates(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	browsing := tagID(t, s, "Browsing")

	addRule(t, s, e, store.Rule{
		Name: "browsers", Priority: 10, Enabled: true, TagID: browsing,
		ProcessPattern: "chrome.exe, firefox.exe",
	})

	for _, process := range []string{"chrome.exe", "firefox.exe"} {
		m, err := e.Match(ctx, Observation{ProcessName: process})
		require.NoError(t, err)
		assert.Equal(t, browsing, m.TagID, process)
	}

	m, err := e.Match(ctx, Observation{ProcessName: "edge.exe"})
	require.NoError(t, err)
	assert.Nil(t, m.RuleID)
}

func TestEmptySlotIsNotAWildcard(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")

	// No populated slots at all: the rule can never fire.
	addRule(t, s, e, store.Rule{Name: "empty", Priority: 99, Enabled: true, TagID: work})

	m, err := e.Match(ctx, Observation{ProcessName: "anything.exe", WindowTitle: "anything"})
	require.NoError(t, err)
	assert.Nil(t, m.RuleID)
}

func TestGlobWildcardsAndCaseSensitivity(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")

	addRule(t, s, e, store.Rule{
		Name: "slack", Priority: 10, Enabled: true, TagID: work,
		URLPattern: "*slack.com*",
	})

	m, err := e.Match(ctx, Observation{ProcessName: "chrome.exe", URL: "https://app.slack.com/client/T1"})
	require.NoError(t, err)
	assert.Equal(t, work, m.TagID)

	// Case-sensitive: uppercase host does not match.
	m, err = e.Match(ctx, Observation{ProcessName: "chrome.exe", URL: "https://app.SLACK.com/client"})
	require.NoError(t, err)
	assert.Nil(t, m.RuleID)
}

func TestBrowserProfileExactMatch(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")

	addRule(t, s, e, store.Rule{
		Name: "work profile", Priority: 10, Enabled: true, TagID: work,
		BrowserProfile: "Profile 2",
	})

	m, err := e.Match(ctx, Observation{ProcessName: "chrome.exe", BrowserProfile: "Profile 2"})
	require.NoError(t, err)
	assert.Equal(t, work, m.TagID)

	// Exact equality, not a glob or prefix.
	m, err = e.Match(ctx, Observation{ProcessName: "chrome.exe", BrowserProfile: "Profile 20"})
	require.NoError(t, err)
	assert.Nil(t, m.RuleID)
}

func TestMalformedPatternDegradesOnlyThatSlot(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")

	addRule(t, s, e, store.Rule{
		Name: "partly broken", Priority: 10, Enabled: true, TagID: work,
		TitlePattern:   "[unclosed",
		ProcessPattern: "code.exe",
	})

	// The broken title slot is skipped; the process slot still works.
	m, err := e.Match(ctx, Observation{ProcessName: "code.exe"})
	require.NoError(t, err)
	assert.Equal(t, work, m.TagID)

	m, err = e.Match(ctx, Observation{ProcessName: "other.exe", WindowTitle: "[unclosed"})
	require.NoError(t, err)
	assert.Nil(t, m.RuleID)
}

func TestDisabledRulesAreExcluded(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")

	addRule(t, s, e, store.Rule{Name: "off", Priority: 10, Enabled: false, TagID: work, ProcessPattern: "code.exe"})

	m, err := e.Match(ctx, Observation{ProcessName: "code.exe"})
	require.NoError(t, err)
	assert.Nil(t, m.RuleID)
}

func TestUnclassifiedSelfHeals(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	unclassified, err := s.GetTagByName(ctx, store.TagUnclassified)
	require.NoError(t, err)
	require.NoError(t, s.DeleteTag(ctx, unclassified.ID))
	require.NoError(t, e.Reload(ctx))

	m, err := e.Match(ctx, Observation{ProcessName: "mystery.exe"})
	require.NoError(t, err)
	assert.Equal(t, store.TagUnclassified, m.TagName)
	assert.Nil(t, m.RuleID)

	healed, err := s.GetTagByName(ctx, store.TagUnclassified)
	require.NoError(t, err)
	assert.Equal(t, healed.ID, m.TagID)
}

// A reload must not disturb a classification that started on the previous
// snapshot; the next classification sees the new rules.
func TestReloadSwapsSnapshotAtomically(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")
	browsing := tagID(t, s, "Browsing")

	addRule(t, s, e, store.Rule{Name: "v1", Priority: 10, Enabled: true, TagID: work, ProcessPattern: "app.exe"})

	before := e.current.Load()
	require.NotNil(t, before)

	// Mutate and reload mid-flight.
	_, err := s.CreateRule(ctx, store.Rule{Name: "v2", Priority: 50, Enabled: true, TagID: browsing, ProcessPattern: "app.exe"})
	require.NoError(t, err)
	require.NoError(t, e.Reload(ctx))

	// The captured snapshot still classifies with the old rules.
	var oldMatch Match
	for _, cr := range before.rules {
		if cr.matches(Observation{ProcessName: "app.exe"}) {
			oldMatch = Match{TagID: cr.rule.TagID}
			break
		}
	}
	assert.Equal(t, work, oldMatch.TagID)

	// A fresh classification uses the new snapshot.
	m, err := e.Match(ctx, Observation{ProcessName: "app.exe"})
	require.NoError(t, err)
	assert.Equal(t, browsing, m.TagID)
}

func TestMatchMemoization(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	work := tagID(t, s, "Work")

	addRule(t, s, e, store.Rule{Name: "work", Priority: 10, Enabled: true, TagID: work, ProcessPattern: "code.exe"})

	obs := Observation{ProcessName: "code.exe", WindowTitle: "main.go"}
	first, err := e.Match(ctx, obs)
	require.NoError(t, err)

	snap := e.current.Load()
	cached, ok := snap.memo.Get(obs)
	require.True(t, ok)
	assert.Equal(t, first, cached)

	// Reload discards the memo along with its snapshot.
	require.NoError(t, e.Reload(ctx))
	_, ok = e.current.Load().memo.Get(obs)
	assert.False(t, ok)
}
