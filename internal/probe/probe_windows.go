//go:build windows

package probe

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"

	"loupe/internal/logging"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")
	winmm  = windows.NewLazySystemDLL("winmm.dll")

	procGetForegroundWindow      = user32.NewProc("GetForegroundWindow")
	procGetWindowTextW           = user32.NewProc("GetWindowTextW")
	procGetWindowThreadProcessID = user32.NewProc("GetWindowThreadProcessId")
	procGetLastInputInfo         = user32.NewProc("GetLastInputInfo")
	procOpenInputDesktop         = user32.NewProc("OpenInputDesktop")
	procCloseDesktop             = user32.NewProc("CloseDesktop")
	procShowWindow               = user32.NewProc("ShowWindow")
	procPlaySoundW               = winmm.NewProc("PlaySoundW")
)

const (
	swMinimize = 6

	sndFilename  = 0x00020000
	sndAsync     = 0x0001
	sndNodefault = 0x0002

	genericRead = 0x80000000
)

type lastInputInfo struct {
	Size uint32
	Time uint32
}

type windowsProber struct {
	logger logging.Logger
}

// New returns the Windows prober.
func New(logger logging.Logger) Prober {
	return &windowsProber{logger: logging.OrNop(logger)}
}

// IsLocked reports the workstation locked when the input desktop cannot be
// opened for reading, which is the observable effect of the secure desktop
// being active.
func (p *windowsProber) IsLocked() bool {
	hDesktop, _, _ := procOpenInputDesktop.Call(0, 0, uintptr(genericRead))
	if hDesktop == 0 {
		return true
	}
	_, _, _ = procCloseDesktop.Call(hDesktop)
	return false
}

// IdleSeconds measures time since the last keyboard or mouse input via
// GetLastInputInfo against the session tick counter.
func (p *windowsProber) IdleSeconds() float64 {
	info := lastInputInfo{Size: uint32(unsafe.Sizeof(lastInputInfo{}))}
	ret, _, _ := procGetLastInputInfo.Call(uintptr(unsafe.Pointer(&info)))
	if ret == 0 {
		return 0
	}
	// 32-bit tick arithmetic; unsigned subtraction stays correct across the
	// 49.7-day wrap.
	now := uint32(windows.GetTickCount64())
	return float64(now-info.Time) / 1000.0
}

func (p *windowsProber) ActiveWindow() (*WindowInfo, bool) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return nil, false
	}

	var pid uint32
	_, _, _ = procGetWindowThreadProcessID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return nil, false
	}

	title := windowTitle(hwnd)
	path, err := processImagePath(pid)
	if err != nil {
		p.logger.Debug("reading image path of pid %d: %v", pid, err)
		return nil, false
	}

	info := &WindowInfo{
		Title:       title,
		ProcessName: filepath.Base(path),
		ProcessPath: path,
		PID:         pid,
		HWND:        hwnd,
	}
	if IsBrowser(info.ProcessName) {
		info.BrowserProfile = p.browserProfile(pid)
	}
	return info, true
}

func (p *windowsProber) MinimizeWindow(hwnd uintptr) error {
	if hwnd == 0 {
		return fmt.Errorf("minimise: zero window handle")
	}
	ret, _, err := procShowWindow.Call(hwnd, uintptr(swMinimize))
	// ShowWindow returns the previous visibility state, not success; a zero
	// return with a real error code means the call itself failed.
	if ret == 0 && err != windows.ERROR_SUCCESS {
		return fmt.Errorf("minimise window %#x: %w", hwnd, err)
	}
	return nil
}

func (p *windowsProber) PlaySoundFile(path string) error {
	namePtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return fmt.Errorf("bad sound path %q: %w", path, err)
	}
	ret, _, _ := procPlaySoundW.Call(
		uintptr(unsafe.Pointer(namePtr)), 0,
		uintptr(sndFilename|sndAsync|sndNodefault))
	if ret == 0 {
		return fmt.Errorf("PlaySound failed for %q", path)
	}
	return nil
}

func windowTitle(hwnd uintptr) string {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

func processImagePath(pid uint32) (string, error) {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", fmt.Errorf("opening process %d: %w", pid, err)
	}
	defer func() { _ = windows.CloseHandle(handle) }()

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(handle, 0, &buf[0], &size); err != nil {
		return "", fmt.Errorf("querying image name of %d: %w", pid, err)
	}
	return windows.UTF16ToString(buf[:size]), nil
}

// browserProfile extracts --profile-directory=X from the browser's command
// line, falling back to the parent process when the foreground process does
// not carry the flag (some Chrome child processes do not), then to "Default".
func (p *windowsProber) browserProfile(pid uint32) string {
	if profile := profileFromCommandLine(pid); profile != "" {
		return profile
	}
	if parent, err := parentPID(pid); err == nil && parent != 0 {
		if profile := profileFromCommandLine(parent); profile != "" {
			return profile
		}
	}
	return "Default"
}

func profileFromCommandLine(pid uint32) string {
	cmdline, err := processCommandLine(pid)
	if err != nil {
		return ""
	}
	return parseProfileDirectory(cmdline)
}

// processCommandLine reads the target's command line out of its PEB. Needs
// PROCESS_VM_READ; access denied on elevated processes is expected and the
// caller degrades to the Default profile.
func processCommandLine(pid uint32) (string, error) {
	handle, err := windows.OpenProcess(
		windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, pid)
	if err != nil {
		return "", fmt.Errorf("opening process %d: %w", pid, err)
	}
	defer func() { _ = windows.CloseHandle(handle) }()

	var pbi windows.PROCESS_BASIC_INFORMATION
	var retLen uint32
	err = windows.NtQueryInformationProcess(handle, windows.ProcessBasicInformation,
		unsafe.Pointer(&pbi), uint32(unsafe.Sizeof(pbi)), &retLen)
	if err != nil {
		return "", fmt.Errorf("querying process %d: %w", pid, err)
	}

	var peb windows.PEB
	if err := readProcessMemory(handle, uintptr(unsafe.Pointer(pbi.PebBaseAddress)),
		unsafe.Pointer(&peb), unsafe.Sizeof(peb)); err != nil {
		return "", fmt.Errorf("reading PEB of %d: %w", pid, err)
	}

	var params windows.RTL_USER_PROCESS_PARAMETERS
	if err := readProcessMemory(handle, uintptr(unsafe.Pointer(peb.ProcessParameters)),
		unsafe.Pointer(&params), unsafe.Sizeof(params)); err != nil {
		return "", fmt.Errorf("reading process parameters of %d: %w", pid, err)
	}

	length := params.CommandLine.Length
	if length == 0 {
		return "", nil
	}
	buf := make([]uint16, length/2)
	if err := readProcessMemory(handle, uintptr(unsafe.Pointer(params.CommandLine.Buffer)),
		unsafe.Pointer(&buf[0]), uintptr(length)); err != nil {
		return "", fmt.Errorf("reading command line of %d: %w", pid, err)
	}
	return windows.UTF16ToString(buf), nil
}

func readProcessMemory(handle windows.Handle, base uintptr, dest unsafe.Pointer, size uintptr) error {
	var read uintptr
	return windows.ReadProcessMemory(handle, base, (*byte)(dest), size, &read)
}

func parentPID(pid uint32) (uint32, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPPROCESS, 0)
	if err != nil {
		return 0, fmt.Errorf("snapshotting processes: %w", err)
	}
	defer func() { _ = windows.CloseHandle(snapshot) }()

	entry := windows.ProcessEntry32{Size: uint32(unsafe.Sizeof(windows.ProcessEntry32{}))}
	if err := windows.Process32First(snapshot, &entry); err != nil {
		return 0, err
	}
	for {
		if entry.ProcessID == pid {
			return entry.ParentProcessID, nil
		}
		if err := windows.Process32Next(snapshot, &entry); err != nil {
			return 0, fmt.Errorf("process %d not found", pid)
		}
	}
}
