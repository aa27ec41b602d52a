//go:build windows

package autostart

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows/registry"
)

const runKeyPath = `Software\Microsoft\Windows\CurrentVersion\Run`

// Enabled reports whether the per-user run entry exists.
func Enabled() (bool, error) {
	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.QUERY_VALUE)
	if err != nil {
		return false, fmt.Errorf("opening run key: %w", err)
	}
	defer func() { _ = key.Close() }()

	if _, _, err := key.GetStringValue(runValueName); err != nil {
		if err == registry.ErrNotExist {
			return false, nil
		}
		return false, fmt.Errorf("reading run entry: %w", err)
	}
	return true, nil
}

// Enable writes a run entry pointing at the current executable's run
// command.
func Enable() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable path: %w", err)
	}

	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("opening run key: %w", err)
	}
	defer func() { _ = key.Close() }()

	command := fmt.Sprintf(`"%s" run`, exe)
	if err := key.SetStringValue(runValueName, command); err != nil {
		return fmt.Errorf("writing run entry: %w", err)
	}
	return nil
}

// Disable removes the run entry. Removing an absent entry is a no-op.
func Disable() error {
	key, err := registry.OpenKey(registry.CURRENT_USER, runKeyPath, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("opening run key: %w", err)
	}
	defer func() { _ = key.Close() }()

	if err := key.DeleteValue(runValueName); err != nil && err != registry.ErrNotExist {
		return fmt.Errorf("removing run entry: %w", err)
	}
	return nil
}
