package tty

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// BaudRate is the console speed of every unit on the bench.
const BaudRate = 115200

// Port is the subset of serial.Port the channel needs.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	Close() error
}

// Opener opens the byte connection at path. Channels keep their opener so
// they can reopen the same address after the link stalls.
type Opener func(path string) (Port, error)

// SerialOpener opens real serial ports at 8N1 with the given read timeout.
func SerialOpener(baud int, readTimeout time.Duration) Opener {
	if baud == 0 {
		baud = BaudRate
	}
	return func(path string) (Port, error) {
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := serial.Open(path, mode)
		if err != nil {
			return nil, fmt.Errorf("tty: failed to open %s: %w", path, err)
		}
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("tty: failed to set timeout on %s: %w", path, err)
		}
		return port, nil
	}
}

// ListPorts returns candidate console paths: every USB serial adapter the
// enumerator reports plus anything matching globs. Duplicates are dropped.
func ListPorts(globs []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("tty: enumerate ports: %w", err)
	}
	for _, d := range details {
		if d.IsUSB {
			add(d.Name)
		}
	}

	for _, pat := range globs {
		matches, err := filepath.Glob(pat)
		if err != nil {
			return nil, fmt.Errorf("tty: bad port pattern %q: %w", pat, err)
		}
		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				add(m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
