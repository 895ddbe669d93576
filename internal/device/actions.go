package device

import (
	"fmt"

	"github.com/shaunagostinho/seymour-life/internal/console"
	"github.com/shaunagostinho/seymour-life/internal/counter"
)

// queryAttempts is one try plus one retry; a single read can race the
// menu redraw.
const queryAttempts = 2

// StartBP starts a BP self-test from the lifecycle menu.
func (d *Device) StartBP() error {
	if err := d.GoToLifecycleMenu(); err != nil {
		return err
	}
	d.log.Info("Starting BP cycle")
	if err := d.conn.Write(console.StartBP); err != nil {
		return err
	}
	d.observe(d.conn.Read())
	return nil
}

// IsBPRunning asks the lifecycle menu whether a BP cycle is in progress.
func (d *Device) IsBPRunning() (bool, error) {
	resp, err := d.query(LifecycleMenu, console.CheckBPState, func(r console.Response) bool {
		return r.Is(console.BPRunning) || r.Is(console.BPIdle)
	})
	if err != nil {
		d.log.Error(err, "BP state unknown")
		return false, err
	}
	running := resp.Is(console.BPRunning)
	d.log.V(1).Info("BP state", "running", running)
	return running, nil
}

// TempCount reads the firmware's probe-pull counter.
func (d *Device) TempCount() (uint64, error) {
	resp, err := d.query(LifecycleMenu, console.ReadTemp, func(r console.Response) bool {
		return r.Is(console.TempCount) && r.Valid
	})
	if err != nil {
		d.log.Error(err, "Probe pull count unknown")
		return 0, err
	}
	d.log.V(1).Info("Probe pulls", "count", resp.Count)
	return resp.Count, nil
}

// ReadSerial asks the debug tool for the unit serial number from the shell.
func (d *Device) ReadSerial() (string, error) {
	resp, err := d.query(ShellPrompt, console.RequestSerial, func(r console.Response) bool {
		return r.Is(console.Serial)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoSerial, err)
	}
	serial, ok := console.ExtractSerial(resp.Text)
	if ok && !counter.ValidSerial(serial) {
		d.log.Error(nil, "Serial number unusable as a file name", "serial", serial)
		return "", ErrNoSerial
	}
	if !ok {
		d.log.Error(nil, "Serial reply without a serial number", "raw", resp.Text)
		return "", ErrNoSerial
	}
	return serial, nil
}

// Darken turns the screen brightness down.
func (d *Device) Darken() error { return d.brightness(console.BrightnessLow) }

// Brighten turns the screen brightness up.
func (d *Device) Brighten() error { return d.brightness(console.BrightnessHigh) }

func (d *Device) brightness(cmd console.Command) error {
	if err := d.GoToBrightnessMenu(); err != nil {
		return err
	}
	if err := d.conn.Write(cmd); err != nil {
		return err
	}
	d.observe(d.conn.Read())
	return nil
}

// query navigates to at, writes cmd and returns the first reply accepted by
// ok. It gives up after queryAttempts write/read rounds. A debug-menu crash
// moves the state to the shell so the retry reopens the menu first.
func (d *Device) query(at State, cmd console.Command, ok func(console.Response) bool) (console.Response, error) {
	var last console.Response
	for attempt := 1; attempt <= queryAttempts; attempt++ {
		if err := d.GoTo(at); err != nil {
			return last, err
		}
		if err := d.conn.Write(cmd); err != nil {
			return last, err
		}
		last = d.conn.Read()
		if ok(last) {
			return last, nil
		}
		d.observe(last)
		d.log.V(1).Info("Unexpected reply, retrying", "command", cmd.String(), "response", last.String(), "attempt", attempt)
	}
	return last, fmt.Errorf("%w to %s (last %s)", ErrNoAnswer, cmd, last)
}
