package sim

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrPortClosed is returned by reads and writes on a closed unit port.
var ErrPortClosed = errors.New("sim: port closed")

type screen int

const (
	screenLogin screen = iota
	screenShell
	screenDebug
	screenLifecycle
	screenBrightness
	screenBooting
)

const (
	shellPrompt = "root@seymour:~# "
	loginPrompt = "\r\nseymour login: "
	menuPrompt  = "> "
	ubootPrompt = "U-Boot 2020.04\r\nHit any key to stop autoboot:  0\r\n=> "

	debugBanner      = "Debug Menu\r\n L) Lifecycle\r\n B) Brightness\r\n q) Quit\r\n" + menuPrompt
	lifecycleBanner  = "Debug Menu > Lifecycle Menu\r\n N) Start BP\r\n n) BP state\r\n H) Probe pulls\r\n \\) Up\r\n" + menuPrompt
	brightnessBanner = "Debug Menu > Brightness Menu\r\n 0) High\r\n 1) Low\r\n \\) Up\r\n" + menuPrompt
)

// Options shapes a simulated unit.
type Options struct {
	Serial string
	// BPChecks is how many BP state queries report a running cycle after
	// a start.
	BPChecks int
	// BootReads is how many silent reads a reboot takes before the login
	// prompt appears.
	BootReads int
	// StopAtUBoot halts every boot at the bootloader prompt until told to
	// continue.
	StopAtUBoot bool
	// StartInMenu starts the unit in the lifecycle menu instead of at the
	// login prompt.
	StartInMenu bool
	// BlankSerial answers serial requests without a number, like a unit
	// whose identity block was never programmed.
	BlankSerial bool
}

// Unit generates the console output of one unit's firmware for development
// and testing. Output is produced synchronously on Write; each empty Read
// advances a running boot by one line.
type Unit struct {
	mu   sync.Mutex
	opts Options

	screen     screen
	pending    []byte
	boot       []string
	closed     bool
	probeHigh  bool
	pulls      uint64
	bpLeft     int
	bpStarts   int
	reboots    int
	bright     bool
	crashNext  bool
	lineBroken bool
	atUBoot    bool
}

func NewUnit(opts Options) *Unit {
	if opts.Serial == "" {
		opts.Serial = "SL0000-0000"
	}
	if opts.BPChecks <= 0 {
		opts.BPChecks = 3
	}
	if opts.BootReads <= 0 {
		opts.BootReads = 2
	}
	u := &Unit{opts: opts, bright: true}
	if opts.StartInMenu {
		u.screen = screenLifecycle
	}
	return u
}

func (u *Unit) Serial() string { return u.opts.Serial }

// Read returns pending console output. With nothing pending it reports a
// read timeout and moves a running boot along.
func (u *Unit) Read(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, ErrPortClosed
	}
	if u.lineBroken {
		return 0, nil
	}
	if len(u.pending) == 0 {
		u.advanceBoot()
		return 0, nil
	}
	n := copy(p, u.pending)
	u.pending = u.pending[n:]
	return n, nil
}

func (u *Unit) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, ErrPortClosed
	}
	if !u.lineBroken {
		u.input(string(p))
	}
	return len(p), nil
}

func (u *Unit) Drain() error { return nil }

func (u *Unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = true
	return nil
}

// reopen makes the port usable again and restores a stalled link.
func (u *Unit) reopen() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.closed = false
	u.lineBroken = false
}

// SetProbe drives the probe-pull input. A rising edge counts as one pull.
func (u *Unit) SetProbe(high bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if high && !u.probeHigh {
		u.pulls++
	}
	u.probeHigh = high
}

// Stall makes the link go silent until the port is reopened.
func (u *Unit) Stall() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lineBroken = true
}

// CrashNext makes the next lifecycle menu command crash the debug tool.
func (u *Unit) CrashNext() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.crashNext = true
}

// Stats reports what the firmware has counted so far.
type Stats struct {
	Pulls    uint64
	BPStarts int
	Reboots  int
	Bright   bool
}

func (u *Unit) Stats() Stats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return Stats{Pulls: u.pulls, BPStarts: u.bpStarts, Reboots: u.reboots, Bright: u.bright}
}

func (u *Unit) emit(s string) { u.pending = append(u.pending, s...) }

func (u *Unit) input(in string) {
	if in == "q\n" && u.inMenu() {
		u.screen = screenShell
		u.emit("\r\n" + shellPrompt)
		return
	}
	switch u.screen {
	case screenLogin:
		u.login(in)
	case screenShell:
		u.shell(in)
	case screenDebug:
		u.debug(in)
	case screenLifecycle:
		u.lifecycle(in)
	case screenBrightness:
		u.brightness(in)
	case screenBooting:
		if in == "boot\n" && u.atUBoot {
			u.atUBoot = false
		}
	}
}

func (u *Unit) inMenu() bool {
	return u.screen == screenDebug || u.screen == screenLifecycle || u.screen == screenBrightness
}

func (u *Unit) login(in string) {
	if in == "root\n" {
		u.screen = screenShell
		u.emit("Last login: Thu Jan  1 00:00:10 UTC 1970 on ttyS0\r\n" + shellPrompt)
		return
	}
	u.emit(loginPrompt)
}

func (u *Unit) shell(in string) {
	switch in {
	case "python3 -m debugmenu\n":
		u.screen = screenDebug
		u.emit("Initialising debug menu\r\n" + debugBanner)
	case "echo 'S' | python3 -m debugmenu\n":
		serial := u.opts.Serial
		if u.opts.BlankSerial {
			serial = ""
		}
		u.emit(fmt.Sprintf("Serial Number: %s\r\n%s", serial, shellPrompt))
	case "shutdown -r now\n":
		u.startBoot("\r\nBroadcast message from root@seymour\r\nThe system is going down for reboot NOW!\r\n")
	case "\n":
		u.emit("\r\n" + shellPrompt)
	default:
		cmd := strings.Fields(in)
		name := "?"
		if len(cmd) > 0 {
			name = cmd[0]
		}
		u.emit(fmt.Sprintf("-sh: %s: command not found\r\n%s", name, shellPrompt))
	}
}

func (u *Unit) debug(in string) {
	switch in {
	case "L":
		u.screen = screenLifecycle
		u.emit(lifecycleBanner)
	case "B":
		u.screen = screenBrightness
		u.emit(brightnessBanner)
	default:
		u.emit(debugBanner)
	}
}

func (u *Unit) lifecycle(in string) {
	if u.crashNext {
		u.crashNext = false
		u.screen = screenShell
		u.emit("Traceback (most recent call last):\r\n  File \"debugmenu.py\", line 88\r\nOSError: [Errno 5]\r\n" + shellPrompt)
		return
	}
	switch in {
	case "N":
		u.bpLeft = u.opts.BPChecks
		u.bpStarts++
		u.emit("Starting BP\r\n" + menuPrompt)
	case "n":
		if u.bpLeft > 0 {
			u.bpLeft--
			u.emit("MANUAL_BP\r\n" + menuPrompt)
			return
		}
		u.emit("IDLE\r\n" + menuPrompt)
	case "H":
		u.emit(fmt.Sprintf("SureTemp Probe Pulls: %d\r\n%s", u.pulls, menuPrompt))
	case "\\":
		u.screen = screenDebug
		u.emit(debugBanner)
	default:
		u.emit(lifecycleBanner)
	}
}

func (u *Unit) brightness(in string) {
	switch in {
	case "0":
		u.bright = true
		u.emit("Brightness set to high\r\n" + menuPrompt)
	case "1":
		u.bright = false
		u.emit("Brightness set to low\r\n" + menuPrompt)
	case "\\":
		u.screen = screenDebug
		u.emit(debugBanner)
	default:
		u.emit(brightnessBanner)
	}
}

// startBoot queues the shutdown and boot sequence. The login prompt arrives
// after BootReads silent reads.
func (u *Unit) startBoot(announce string) {
	u.screen = screenBooting
	u.bpLeft = 0
	u.reboots++
	u.emit(announce)
	u.boot = []string{"reboot: Restarting system\r\n"}
	if u.opts.StopAtUBoot {
		u.boot = append(u.boot, ubootPrompt)
	}
	for i := 0; i < u.opts.BootReads; i++ {
		u.boot = append(u.boot, "")
	}
	u.boot = append(u.boot, "Starting kernel ...\r\n", loginPrompt)
}

func (u *Unit) advanceBoot() {
	if u.screen != screenBooting || len(u.boot) == 0 || u.atUBoot {
		return
	}
	next := u.boot[0]
	u.boot = u.boot[1:]
	u.emit(next)
	if next == ubootPrompt {
		u.atUBoot = true
		return
	}
	if len(u.boot) == 0 {
		u.screen = screenLogin
	}
}
