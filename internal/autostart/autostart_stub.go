//go:build !windows

package autostart

// Enabled reports false on unsupported platforms.
func Enabled() (bool, error) { return false, ErrUnsupported }

// Enable is unavailable on this platform.
func Enable() error { return ErrUnsupported }

// Disable is unavailable on this platform.
func Disable() error { return ErrUnsupported }
