//go:build !windows

package probe

import "loupe/internal/logging"

// stubProber is the non-Windows fallback. The daemon still runs: every tick
// samples __UNKNOWN__, and the actuators report ErrUnsupported.
type stubProber struct {
	logger logging.Logger
}

// New returns the portable stub prober.
func New(logger logging.Logger) Prober {
	return &stubProber{logger: logging.OrNop(logger)}
}

func (p *stubProber) IsLocked() bool { return false }

func (p *stubProber) IdleSeconds() float64 { return 0 }

func (p *stubProber) ActiveWindow() (*WindowInfo, bool) { return nil, false }

func (p *stubProber) MinimizeWindow(uintptr) error { return ErrUnsupported }

func (p *stubProber) PlaySoundFile(string) error { return ErrUnsupported }
