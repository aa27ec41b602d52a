// Package autostart registers the daemon to run at user login. Only Windows
// is implemented; other platforms report ErrUnsupported and the façade
// surfaces that as a disabled toggle.
package autostart

import "errors"

// ErrUnsupported is returned on platforms without an autostart backend.
var ErrUnsupported = errors.New("autostart is not supported on this platform")

// runValueName is the per-user registry value the daemon writes.
const runValueName = "Loupe"
