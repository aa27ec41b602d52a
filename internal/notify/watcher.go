package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"loupe/internal/config"
	"loupe/internal/logging"
	"loupe/internal/store"
)

// mediaExtensions maps accepted file extensions to their asset kind. Files
// with other extensions dropped into the media directories are ignored.
var mediaExtensions = map[string]string{
	".wav":  store.MediaSound,
	".mp3":  store.MediaSound,
	".png":  store.MediaImage,
	".jpg":  store.MediaImage,
	".jpeg": store.MediaImage,
	".gif":  store.MediaImage,
}

// MediaWatcher registers files dropped into the sounds/ and images/
// directories as media assets, so users can add alert media without the
// upload endpoint or a restart.
type MediaWatcher struct {
	store   *store.Store
	paths   config.Paths
	logger  logging.Logger
	watcher *fsnotify.Watcher
}

// NewMediaWatcher builds a watcher over both media directories.
func NewMediaWatcher(st *store.Store, paths config.Paths, logger logging.Logger) (*MediaWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating media watcher: %w", err)
	}
	for _, dir := range []string{paths.SoundsDir, paths.ImagesDir} {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	return &MediaWatcher{
		store:   st,
		paths:   paths,
		logger:  logging.OrNop(logger),
		watcher: watcher,
	}, nil
}

// Run consumes filesystem events until ctx is cancelled.
func (w *MediaWatcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("media watcher: %v", err)
		}
	}
}

func (w *MediaWatcher) handle(ctx context.Context, event fsnotify.Event) {
	kind, ok := mediaExtensions[strings.ToLower(filepath.Ext(event.Name))]
	if !ok {
		return
	}
	filename := filepath.Base(event.Name)

	switch {
	case event.Has(fsnotify.Create):
		if w.assetID(ctx, kind, filename) != 0 {
			return
		}
		name := strings.TrimSuffix(filename, filepath.Ext(filename))
		if _, err := w.store.CreateMediaAsset(ctx, kind, name, filename); err != nil {
			w.logger.Warn("registering dropped %s file %s: %v", kind, filename, err)
			return
		}
		w.logger.Info("registered new %s asset %s", kind, filename)

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		id := w.assetID(ctx, kind, filename)
		if id == 0 {
			return
		}
		if _, err := w.store.DeleteMediaAsset(ctx, id); err != nil {
			w.logger.Warn("dropping removed %s asset %s: %v", kind, filename, err)
			return
		}
		w.logger.Info("removed %s asset %s", kind, filename)
	}
}

func (w *MediaWatcher) assetID(ctx context.Context, kind, filename string) int64 {
	assets, err := w.store.ListMediaAssets(ctx, kind)
	if err != nil {
		return 0
	}
	for _, a := range assets {
		if a.Filename == filename {
			return a.ID
		}
	}
	return 0
}
