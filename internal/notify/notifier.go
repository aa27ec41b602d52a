package notify

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/beeep"

	"loupe/internal/async"
	"loupe/internal/config"
	"loupe/internal/logging"
	"loupe/internal/observability"
	"loupe/internal/store"
)

// toastTitle is the constant notification title.
const toastTitle = "Loupe"

// SoundPlayer plays an audio file. Satisfied by probe.Prober.
type SoundPlayer interface {
	PlaySoundFile(path string) error
}

// Notifier delivers a toast when an observation lands on a tag with alerting
// enabled, rate-limited per tag by the tag's cooldown. Delivery never raises:
// a missing toast backend degrades to sound, a missing sound to the system
// beep, and the rest to nothing but a log line.
type Notifier struct {
	store   *store.Store
	player  SoundPlayer
	paths   config.Paths
	logger  logging.Logger
	metrics *observability.MetricsCollector

	tags atomic.Pointer[map[int64]store.Tag]

	mu        sync.Mutex
	lastFire  map[int64]time.Time
	lastSound int64
	lastImage int64

	// now and deliver are swappable for tests.
	now     func() time.Time
	deliver func(ctx context.Context, tag store.Tag)
}

// NewNotifier builds a notifier and loads the initial tag snapshot.
func NewNotifier(ctx context.Context, st *store.Store, player SoundPlayer, paths config.Paths, logger logging.Logger, metrics *observability.MetricsCollector) (*Notifier, error) {
	n := &Notifier{
		store:    st,
		player:   player,
		paths:    paths,
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		lastFire: make(map[int64]time.Time),
		now:      time.Now,
	}
	if n.metrics == nil {
		n.metrics = &observability.MetricsCollector{}
	}
	n.deliver = n.deliverToast
	if err := n.Reload(ctx); err != nil {
		return nil, err
	}
	return n, nil
}

// Reload refreshes the tag snapshot. Called alongside rule reloads after tag
// mutations.
func (n *Notifier) Reload(ctx context.Context) error {
	tags, err := n.store.ListTags(ctx)
	if err != nil {
		return err
	}
	snapshot := make(map[int64]store.Tag, len(tags))
	for _, t := range tags {
		snapshot[t.ID] = t
	}
	n.tags.Store(&snapshot)
	return nil
}

// Maybe fires a notification for the tag when its alert flag is on and the
// cooldown has elapsed. Reserved tags never alert. The last-fire timestamp
// is stamped before the OS call so a slow toast cannot double-fire.
func (n *Notifier) Maybe(ctx context.Context, tagID int64) {
	snapshot := n.tags.Load()
	if snapshot == nil {
		return
	}
	tag, ok := (*snapshot)[tagID]
	if !ok || !tag.AlertEnabled || tag.Reserved() {
		return
	}

	cooldown := time.Duration(tag.AlertCooldown) * time.Second
	if cooldown < time.Second {
		cooldown = time.Second
	}

	n.mu.Lock()
	now := n.now()
	if last, ok := n.lastFire[tagID]; ok && now.Sub(last) < cooldown {
		n.mu.Unlock()
		n.metrics.RecordNotification(ctx, "suppressed")
		return
	}
	n.lastFire[tagID] = now
	n.mu.Unlock()

	async.Go(n.logger, "notify", func() {
		n.deliver(context.WithoutCancel(ctx), tag)
	})
}

// deliverToast sends the toast, then the sound, degrading stage by stage.
func (n *Notifier) deliverToast(ctx context.Context, tag store.Tag) {
	message := tag.AlertMessage
	if message == "" {
		message = "You are on \"" + tag.Name + "\" again. Still intentional?"
	}

	delivered := false
	if n.store.SettingBool(ctx, store.SettingAlertToastEnabled, true) {
		icon := n.pickImage(ctx)
		if err := beeep.Notify(toastTitle, message, icon); err != nil {
			n.logger.Warn("toast for tag %q failed, degrading to sound: %v", tag.Name, err)
		} else {
			delivered = true
		}
	}

	if n.store.SettingBool(ctx, store.SettingAlertSoundEnabled, false) {
		if n.playSound(ctx) {
			delivered = true
		}
	}

	if delivered {
		n.metrics.RecordNotification(ctx, "sent")
		n.logger.Debug("alert delivered for tag %q", tag.Name)
	} else {
		n.metrics.RecordNotification(ctx, "failed")
	}
}

// playSound plays the configured alert sound, falling back to the system
// beep when the file is missing or the player fails.
func (n *Notifier) playSound(ctx context.Context) bool {
	path := n.pickSound(ctx)
	if path != "" {
		err := n.player.PlaySoundFile(path)
		if err == nil {
			return true
		}
		n.logger.Warn("sound playback failed, falling back to beep: %v", err)
	}
	if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
		n.logger.Warn("system beep failed: %v", err)
		return false
	}
	return true
}

func (n *Notifier) pickSound(ctx context.Context) string {
	asset := n.pickAsset(ctx, store.MediaSound,
		store.SettingAlertSoundMode, store.SettingAlertSoundSelected, &n.lastSound)
	if asset == nil {
		return ""
	}
	path := filepath.Join(n.paths.SoundsDir, asset.Filename)
	if _, err := os.Stat(path); err != nil {
		n.logger.Warn("alert sound %q missing on disk: %v", asset.Name, err)
		return ""
	}
	return path
}

func (n *Notifier) pickImage(ctx context.Context) string {
	if !n.store.SettingBool(ctx, store.SettingAlertImageEnabled, false) {
		return ""
	}
	asset := n.pickAsset(ctx, store.MediaImage,
		store.SettingAlertImageMode, store.SettingAlertImageSelected, &n.lastImage)
	if asset == nil {
		return ""
	}
	path := filepath.Join(n.paths.ImagesDir, asset.Filename)
	if _, err := os.Stat(path); err != nil {
		n.logger.Warn("alert image %q missing on disk: %v", asset.Name, err)
		return ""
	}
	return path
}

// pickAsset resolves the configured asset for kind. Mode "single" uses the
// selected id; "random" picks uniformly but never repeats the immediately
// previous pick when two or more assets exist.
func (n *Notifier) pickAsset(ctx context.Context, kind, modeKey, selectedKey string, lastPick *int64) *store.MediaAsset {
	mode := n.store.Setting(ctx, modeKey, "single")
	if mode == "single" {
		id := int64(n.store.SettingInt(ctx, selectedKey, 0))
		if id == 0 {
			return nil
		}
		asset, err := n.store.GetMediaAsset(ctx, id)
		if err != nil {
			n.logger.Warn("selected %s asset %d not found: %v", kind, id, err)
			return nil
		}
		return &asset
	}

	assets, err := n.store.ListMediaAssets(ctx, kind)
	if err != nil || len(assets) == 0 {
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(assets) == 1 {
		*lastPick = assets[0].ID
		return &assets[0]
	}
	for {
		pick := assets[rand.Intn(len(assets))]
		if pick.ID != *lastPick {
			*lastPick = pick.ID
			return &pick
		}
	}
}
