package backup

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"loupe/internal/config"
	"loupe/internal/logging"
	"loupe/internal/store"
)

// Manager handles database snapshots, staged restores and media bundling.
type Manager struct {
	store  *store.Store
	paths  config.Paths
	logger logging.Logger
}

// NewManager builds a backup manager over the live store.
func NewManager(st *store.Store, paths config.Paths, logger logging.Logger) *Manager {
	return &Manager{store: st, paths: paths, logger: logging.OrNop(logger)}
}

// Snapshot produces a consistent copy of the database in a temp file and
// returns its path with a suggested download name. The caller removes the
// file when done. The snapshot is refused when the live database fails its
// integrity check.
func (m *Manager) Snapshot(ctx context.Context, includeMedia bool) (path, filename string, err error) {
	if err := m.store.CheckIntegrity(ctx); err != nil {
		return "", "", fmt.Errorf("refusing backup of corrupt database: %w", err)
	}
	if err := m.store.Checkpoint(ctx); err != nil {
		return "", "", err
	}

	stamp := time.Now().Format("2006-01-02_150405")
	tmp, err := os.CreateTemp("", "loupe-backup-*")
	if err != nil {
		return "", "", fmt.Errorf("creating backup temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if !includeMedia {
		if err = copyFileTo(m.store.Path(), tmp); err != nil {
			return "", "", err
		}
		return tmp.Name(), "loupe_backup_" + stamp + ".db", nil
	}

	if err = m.writeBundle(tmp); err != nil {
		return "", "", err
	}
	return tmp.Name(), "loupe_backup_" + stamp + ".zip", nil
}

// writeBundle zips the database with the sounds/ and images/ trees.
func (m *Manager) writeBundle(w io.Writer) error {
	zw := zip.NewWriter(w)

	dbEntry, err := zw.Create("activity_tracker.db")
	if err != nil {
		return fmt.Errorf("creating zip entry: %w", err)
	}
	dbFile, err := os.Open(m.store.Path())
	if err != nil {
		return fmt.Errorf("opening database for backup: %w", err)
	}
	_, err = io.Copy(dbEntry, dbFile)
	_ = dbFile.Close()
	if err != nil {
		return fmt.Errorf("copying database into bundle: %w", err)
	}

	for prefix, dir := range map[string]string{"sounds": m.paths.SoundsDir, "images": m.paths.ImagesDir} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			entry, err := zw.Create(prefix + "/" + e.Name())
			if err != nil {
				return fmt.Errorf("creating zip entry: %w", err)
			}
			f, err := os.Open(filepath.Join(dir, e.Name()))
			if err != nil {
				m.logger.Warn("skipping unreadable media file %s: %v", e.Name(), err)
				continue
			}
			_, err = io.Copy(entry, f)
			_ = f.Close()
			if err != nil {
				return fmt.Errorf("copying %s into bundle: %w", e.Name(), err)
			}
		}
	}
	return zw.Close()
}

// restoreMeta is the restore_pending.json sidecar describing a staged
// restore.
type restoreMeta struct {
	StagedAt  string `json:"staged_at"`
	HasMedia  bool   `json:"has_media"`
	SizeBytes int64  `json:"size_bytes"`
}

// StageRestore validates an uploaded database and stages it for the next
// start-up. The live database is never touched here; a validation failure
// leaves everything as it was. After a successful stage the process should
// release its store handle and exit so the swap can happen.
func (m *Manager) StageRestore(upload io.Reader, mediaZip io.Reader) error {
	tmp, err := os.CreateTemp(m.paths.DataDir, "restore-upload-*")
	if err != nil {
		return fmt.Errorf("staging upload: %w", err)
	}
	tmpName := tmp.Name()
	size, err := io.Copy(tmp, upload)
	closeErr := tmp.Close()
	if err != nil || closeErr != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing upload: %w", err)
	}

	if err := validateDatabase(tmpName); err != nil {
		_ = os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, m.paths.RestorePendingDB); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("staging pending restore: %w", err)
	}

	hasMedia := false
	if mediaZip != nil {
		mediaFile, err := os.Create(m.paths.RestorePendingMedia)
		if err != nil {
			return fmt.Errorf("staging pending media: %w", err)
		}
		_, err = io.Copy(mediaFile, mediaZip)
		closeErr := mediaFile.Close()
		if err != nil || closeErr != nil {
			return fmt.Errorf("writing pending media: %w", err)
		}
		hasMedia = true
	}

	meta, err := json.Marshal(restoreMeta{
		StagedAt:  time.Now().Format(time.RFC3339),
		HasMedia:  hasMedia,
		SizeBytes: size,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.paths.RestorePendingMeta, meta, 0o644); err != nil {
		return fmt.Errorf("writing restore metadata: %w", err)
	}
	m.logger.Info("restore staged (%d bytes, media=%v); restart to apply", size, hasMedia)
	return nil
}

// validateDatabase opens the candidate file and requires a clean
// integrity_check. The upload is rejected wholesale on any failure.
func validateDatabase(path string) error {
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("uploaded file is not a usable database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("uploaded file is not a valid SQLite database: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("uploaded database failed integrity check: %s", result)
	}
	return nil
}

// ApplyPendingRestore replaces the live database with a staged one, if any.
// Must run before the store is opened. Journal sidecars of the old database
// are removed so stale WAL frames cannot shadow the restored file. Returns
// whether a restore was applied.
func ApplyPendingRestore(paths config.Paths, logger logging.Logger) (bool, error) {
	logger = logging.OrNop(logger)
	if _, err := os.Stat(paths.RestorePendingDB); err != nil {
		return false, nil
	}

	// Validate once more: the staging file sat on disk unattended.
	if err := validateDatabase(paths.RestorePendingDB); err != nil {
		logger.Error("staged restore is unusable, discarding: %v", err)
		cleanupPending(paths)
		return false, nil
	}

	for _, sidecar := range []string{paths.DBFile + "-wal", paths.DBFile + "-shm"} {
		_ = os.Remove(sidecar)
	}
	if err := os.Rename(paths.RestorePendingDB, paths.DBFile); err != nil {
		return false, fmt.Errorf("applying pending restore: %w", err)
	}

	if _, err := os.Stat(paths.RestorePendingMedia); err == nil {
		if err := unpackMedia(paths); err != nil {
			logger.Warn("unpacking restored media: %v", err)
		}
	}
	cleanupPending(paths)
	logger.Info("pending restore applied")
	return true, nil
}

func cleanupPending(paths config.Paths) {
	for _, f := range []string{paths.RestorePendingDB, paths.RestorePendingMedia, paths.RestorePendingMeta} {
		_ = os.Remove(f)
	}
}

// unpackMedia extracts sounds/ and images/ entries from the staged media
// zip into the live media directories. Entry names outside the two known
// prefixes (or trying to traverse out) are skipped.
func unpackMedia(paths config.Paths) error {
	r, err := zip.OpenReader(paths.RestorePendingMedia)
	if err != nil {
		return fmt.Errorf("opening media bundle: %w", err)
	}
	defer func() { _ = r.Close() }()

	dirFor := map[string]string{"sounds": paths.SoundsDir, "images": paths.ImagesDir}
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.ToSlash(f.Name)
		prefix, base := filepath.Dir(name), filepath.Base(name)
		dir, ok := dirFor[prefix]
		if !ok || base != filepath.Clean(base) || base == ".." {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return err
		}
		dst, err := os.Create(filepath.Join(dir, base))
		if err != nil {
			_ = src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		_ = src.Close()
		_ = dst.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func copyFileTo(src string, dst io.Writer) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return nil
}
