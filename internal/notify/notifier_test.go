package notify

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loupe/internal/config"
	"loupe/internal/logging"
	"loupe/internal/store"
)

type nopPlayer struct{}

func (nopPlayer) PlaySoundFile(string) error { return nil }

// capture collects deliveries synchronously so tests can assert on them.
type capture struct {
	mu   sync.Mutex
	tags []string
}

func (c *capture) add(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = append(c.tags, name)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tags)
}

func (c *capture) wait(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got %d", want, c.count())
}

func newTestNotifier(t *testing.T) (*Notifier, *store.Store, *capture) {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	s, err := store.Open(ctx, filepath.Join(dir, "test.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	paths, err := config.NewPaths(dir)
	require.NoError(t, err)

	n, err := NewNotifier(ctx, s, nopPlayer{}, paths, logging.Nop(), nil)
	require.NoError(t, err)

	c := &capture{}
	n.deliver = func(_ context.Context, tag store.Tag) { c.add(tag.Name) }
	return n, s, c
}

func alertTag(t *testing.T, s *store.Store, n *Notifier, name string, cooldown int) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateTag(ctx, store.Tag{Name: name, AlertEnabled: true, AlertCooldown: cooldown})
	require.NoError(t, err)
	require.NoError(t, n.Reload(ctx))
	return id
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	n, s, c := newTestNotifier(t)
	ctx := context.Background()
	id := alertTag(t, s, n, "Slack", 60)

	base := time.Date(2026, 5, 20, 10, 0, 0, 0, time.Local)
	now := base
	n.now = func() time.Time { return now }

	n.Maybe(ctx, id)
	c.wait(t, 1)

	// Within cooldown: suppressed.
	now = base.Add(30 * time.Second)
	n.Maybe(ctx, id)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.count())

	// Exactly at cooldown: fires again.
	now = base.Add(60 * time.Second)
	n.Maybe(ctx, id)
	c.wait(t, 2)
}

func TestCooldownIsPerTag(t *testing.T) {
	n, s, c := newTestNotifier(t)
	ctx := context.Background()
	a := alertTag(t, s, n, "A", 600)
	b := alertTag(t, s, n, "B", 600)

	n.Maybe(ctx, a)
	n.Maybe(ctx, b)
	c.wait(t, 2)
}

func TestDisabledAndReservedTagsNeverAlert(t *testing.T) {
	n, s, c := newTestNotifier(t)
	ctx := context.Background()

	quietID, err := s.CreateTag(ctx, store.Tag{Name: "Quiet", AlertEnabled: false})
	require.NoError(t, err)

	away, err := s.GetTagByName(ctx, store.TagAway)
	require.NoError(t, err)
	away.AlertEnabled = true
	require.NoError(t, s.UpdateTag(ctx, away))
	require.NoError(t, n.Reload(ctx))

	n.Maybe(ctx, quietID)
	n.Maybe(ctx, away.ID)
	n.Maybe(ctx, 99999) // unknown tag
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, c.count())
}

func TestMinimumCooldownIsOneSecond(t *testing.T) {
	n, s, c := newTestNotifier(t)
	ctx := context.Background()

	id, err := s.CreateTag(ctx, store.Tag{Name: "Fast", AlertEnabled: true, AlertCooldown: 1})
	require.NoError(t, err)
	require.NoError(t, n.Reload(ctx))

	base := time.Date(2026, 5, 20, 10, 0, 0, 0, time.Local)
	now := base
	n.now = func() time.Time { return now }

	n.Maybe(ctx, id)
	c.wait(t, 1)

	now = base.Add(500 * time.Millisecond)
	n.Maybe(ctx, id)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.count())

	now = base.Add(time.Second)
	n.Maybe(ctx, id)
	c.wait(t, 2)
}

func TestRandomPickNeverRepeatsImmediately(t *testing.T) {
	n, s, _ := newTestNotifier(t)
	ctx := context.Background()

	idA, err := s.CreateMediaAsset(ctx, store.MediaSound, "ding", "ding.wav")
	require.NoError(t, err)
	idB, err := s.CreateMediaAsset(ctx, store.MediaSound, "dong", "dong.wav")
	require.NoError(t, err)
	require.NoError(t, s.SetSetting(ctx, store.SettingAlertSoundMode, "random"))

	var last int64
	seen := map[int64]bool{}
	for i := 0; i < 50; i++ {
		asset := n.pickAsset(ctx, store.MediaSound,
			store.SettingAlertSoundMode, store.SettingAlertSoundSelected, &n.lastSound)
		require.NotNil(t, asset)
		assert.NotEqual(t, last, asset.ID, "immediate repeat at iteration %d", i)
		last = asset.ID
		seen[asset.ID] = true
	}
	assert.True(t, seen[idA] && seen[idB], "both assets should be picked over 50 draws")
}

func TestSinglePickUsesSelectedAsset(t *testing.T) {
	n, s, _ := newTestNotifier(t)
	ctx := context.Background()

	id, err := s.CreateMediaAsset(ctx, store.MediaSound, "ding", "ding.wav")
	require.NoError(t, err)
	require.NoError(t, s.SetSetting(ctx, store.SettingAlertSoundMode, "single"))
	require.NoError(t, s.SetSetting(ctx, store.SettingAlertSoundSelected, strconv.FormatInt(id, 10)))

	asset := n.pickAsset(ctx, store.MediaSound,
		store.SettingAlertSoundMode, store.SettingAlertSoundSelected, &n.lastSound)
	require.NotNil(t, asset)
	assert.Equal(t, id, asset.ID)

	// No selection configured: nothing to play.
	require.NoError(t, s.SetSetting(ctx, store.SettingAlertSoundSelected, ""))
	asset = n.pickAsset(ctx, store.MediaSound,
		store.SettingAlertSoundMode, store.SettingAlertSoundSelected, &n.lastSound)
	assert.Nil(t, asset)
}
