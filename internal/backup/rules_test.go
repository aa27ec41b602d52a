package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/store"
)

type ruleKey struct {
	Name     string
	Priority int
	TagName  string
	Patterns string
}

func ruleMultiset(doc *RulesExport) map[ruleKey]int {
	out := make(map[ruleKey]int)
	for _, r := range doc.Rules {
		key := ruleKey{
			Name:     r.Name,
			Priority: r.Priority,
			TagName:  r.TagName,
			Patterns: r.ProcessPattern + "|" + r.URLPattern + "|" + r.TitlePattern + "|" + r.BrowserProfile + "|" + r.ProcessPathPattern,
		}
		out[key]++
	}
	return out
}

func TestExportImportRoundTrip(t *testing.T) {
	src, srcStore, _ := newTestManager(t)
	ctx := context.Background()

	games, err := srcStore.CreateTag(ctx, store.Tag{Name: "Games", Color: "#FF0000", Category: "non_work"})
	require.NoError(t, err)
	_, err = srcStore.CreateRule(ctx, store.Rule{
		Name: "steam", Priority: 40, Enabled: true, TagID: games,
		ProcessPattern: "steam.exe, steamwebhelper.exe",
	})
	require.NoError(t, err)
	_, err = srcStore.CreateRule(ctx, store.Rule{
		Name: "gaming sites", Priority: 30, Enabled: true, TagID: games,
		URLPattern: "*twitch.tv*", TitlePattern: "*Twitch*",
	})
	require.NoError(t, err)

	doc, err := src.ExportRules(ctx)
	require.NoError(t, err)

	// Serialise and re-parse, as the transfer would.
	raw, err := doc.MarshalJSONBytes()
	require.NoError(t, err)
	parsed, err := ParseRulesJSON(raw)
	require.NoError(t, err)

	// Import into a fresh store with merge mode.
	dst, dstStore, _ := newTestManager(t)
	result, err := dst.ImportRules(ctx, parsed, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TagsCreated) // Games; seeded tags already exist
	// The seeded sentinel rules collide by name and are skipped.
	assert.Equal(t, 2, result.RulesSkipped)
	assert.Equal(t, 2, result.RulesCreated)

	// Round trip: the destination's export is the same multiset.
	dstDoc, err := dst.ExportRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, ruleMultiset(doc), ruleMultiset(dstDoc))

	// The imported rule targets the re-created tag.
	tag, err := dstStore.GetTagByName(ctx, "Games")
	require.NoError(t, err)
	assert.Equal(t, "#FF0000", tag.Color)
	assert.Equal(t, "non_work", tag.Category)
}

func TestImportReplaceModeKeepsSeededRules(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	games, err := s.CreateTag(ctx, store.Tag{Name: "Games"})
	require.NoError(t, err)
	_, err = s.CreateRule(ctx, store.Rule{Name: "doomed", Priority: 5, Enabled: true, TagID: games, ProcessPattern: "old.exe"})
	require.NoError(t, err)

	doc := &RulesExport{
		Version: exportVersion,
		Rules: []ExportRule{
			{Name: "fresh", Priority: 10, Enabled: true, TagName: "Games", ProcessPattern: "new.exe"},
		},
	}
	result, err := m.ImportRules(ctx, doc, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesRemoved) // "doomed" only
	assert.Equal(t, 1, result.RulesCreated)

	rules, err := s.ListRules(ctx, false)
	require.NoError(t, err)
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"Screen locked", "User idle", "fresh"}, names)
}

func TestParseRulesJSONRepairsAlmostJSON(t *testing.T) {
	// Trailing comma: invalid JSON that the repair pass can salvage.
	raw := `{"version":"1.0","rules":[{"name":"r","priority":1,"enabled":true,"tag_name":"T","process_pattern":"x.exe",}]}`
	doc, err := ParseRulesJSON([]byte(raw))
	require.NoError(t, err)
	require.Len(t, doc.Rules, 1)
	assert.Equal(t, "r", doc.Rules[0].Name)
}

func TestParseRulesJSONRejectsGarbageAndEmpty(t *testing.T) {
	_, err := ParseRulesJSON([]byte("<html>nope</html>"))
	assert.Error(t, err)

	_, err = ParseRulesJSON([]byte(`{"version":"1.0","rules":[]}`))
	assert.Error(t, err)

	_, err = ParseRulesJSON([]byte(`{"version":"1.0","rules":[{"name":"","tag_name":"T"}]}`))
	assert.Error(t, err)

	_, err = ParseRulesJSON([]byte(`{"version":"1.0","rules":[{"name":"r","tag_name":""}]}`))
	assert.Error(t, err)
}

func TestYAMLVariantRoundTrip(t *testing.T) {
	m, s, _ := newTestManager(t)
	ctx := context.Background()

	games, err := s.CreateTag(ctx, store.Tag{Name: "Games"})
	require.NoError(t, err)
	_, err = s.CreateRule(ctx, store.Rule{Name: "steam", Priority: 40, Enabled: true, TagID: games, ProcessPattern: "steam.exe"})
	require.NoError(t, err)

	doc, err := m.ExportRules(ctx)
	require.NoError(t, err)
	raw, err := doc.MarshalYAMLBytes()
	require.NoError(t, err)

	parsed, err := ParseRulesYAML(raw)
	require.NoError(t, err)
	assert.Equal(t, ruleMultiset(doc), ruleMultiset(parsed))
}
