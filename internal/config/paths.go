package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// Paths is the resolved on-disk layout under the data directory.
type Paths struct {
	DataDir    string
	DBFile     string
	ConfigFile string
	LogFile    string

	SoundsDir string
	ImagesDir string

	LogsDir        string
	DailyLogsDir   string
	MonthlyLogsDir string
	RecentLogFile  string

	RestorePendingDB    string
	RestorePendingMedia string
	RestorePendingMeta  string
}

// NewPaths builds the layout rooted at dataDir and creates the directories.
func NewPaths(dataDir string) (Paths, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return Paths{}, fmt.Errorf("invalid data directory %q: %w", dataDir, err)
	}

	logsDir := filepath.Join(abs, "activity_logs")
	p := Paths{
		DataDir:    abs,
		DBFile:     filepath.Join(abs, "activity_tracker.db"),
		ConfigFile: filepath.Join(abs, "loupe-config.json"),
		LogFile:    filepath.Join(abs, "loupe.log"),

		SoundsDir: filepath.Join(abs, "sounds"),
		ImagesDir: filepath.Join(abs, "images"),

		LogsDir:        logsDir,
		DailyLogsDir:   filepath.Join(logsDir, "daily"),
		MonthlyLogsDir: filepath.Join(logsDir, "monthly"),
		RecentLogFile:  filepath.Join(logsDir, "recent.log"),

		RestorePendingDB:    filepath.Join(abs, "restore_pending.db"),
		RestorePendingMedia: filepath.Join(abs, "restore_pending_media.zip"),
		RestorePendingMeta:  filepath.Join(abs, "restore_pending.json"),
	}

	for _, dir := range []string{p.DataDir, p.SoundsDir, p.ImagesDir, p.DailyLogsDir, p.MonthlyLogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return p, nil
}

// DefaultDataDir returns the per-OS application data directory:
// %APPDATA%\Loupe on Windows, $XDG_DATA_HOME/loupe (or ~/.local/share/loupe)
// elsewhere.
func DefaultDataDir() (string, error) {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Loupe"), nil
		}
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "Loupe"), nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "loupe"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "loupe"), nil
}
