package probe

import (
	"errors"
	"strings"
)

// ErrUnsupported is returned by probe operations that have no implementation
// on the current platform.
var ErrUnsupported = errors.New("not supported on this platform")

// WindowInfo describes the foreground window at sampling time.
type WindowInfo struct {
	Title          string
	ProcessName    string
	ProcessPath    string
	PID            uint32
	HWND           uintptr
	BrowserProfile string
}

// Prober answers the synchronous OS queries the monitor loop needs each tick,
// plus the two actuations (minimise, sound) the enforcer and notifier issue.
// Implementations are stateless and safe to call at any cadence.
type Prober interface {
	// IsLocked reports whether the interactive desktop is not switchable,
	// i.e. the workstation is locked.
	IsLocked() bool
	// IdleSeconds returns seconds since the last keyboard or mouse input.
	IdleSeconds() float64
	// ActiveWindow returns the foreground window's attributes, or false when
	// it cannot be read.
	ActiveWindow() (*WindowInfo, bool)
	// MinimizeWindow minimises the window identified by hwnd.
	MinimizeWindow(hwnd uintptr) error
	// PlaySoundFile plays an audio file asynchronously.
	PlaySoundFile(path string) error
}

// IsBrowser reports whether a process name belongs to the browser the
// companion extension runs in. Substring match on "chrome", case-insensitive;
// other Chromium browsers are not special-cased because the extension does
// not reach them.
func IsBrowser(processName string) bool {
	return strings.Contains(strings.ToLower(processName), "chrome")
}

// parseProfileDirectory extracts the value of --profile-directory= from a
// browser command line, handling both quoted and bare values. Empty when the
// flag is absent.
func parseProfileDirectory(cmdline string) string {
	const flag = "--profile-directory="
	idx := strings.Index(cmdline, flag)
	if idx < 0 {
		return ""
	}
	rest := cmdline[idx+len(flag):]
	if strings.HasPrefix(rest, `"`) {
		rest = rest[1:]
		if end := strings.Index(rest, `"`); end >= 0 {
			return rest[:end]
		}
		return rest
	}
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		return rest[:end]
	}
	return rest
}
