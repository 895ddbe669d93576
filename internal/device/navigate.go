package device

import (
	"fmt"

	"github.com/shaunagostinho/seymour-life/internal/console"
)

// GoToShellPrompt, GoToDebugMenu, GoToLifecycleMenu and GoToBrightnessMenu
// are idempotent: they write nothing when the console is already there.

func (d *Device) GoToShellPrompt() error    { return d.GoTo(ShellPrompt) }
func (d *Device) GoToDebugMenu() error      { return d.GoTo(DebugMenu) }
func (d *Device) GoToLifecycleMenu() error  { return d.GoTo(LifecycleMenu) }
func (d *Device) GoToBrightnessMenu() error { return d.GoTo(BrightnessMenu) }

// GoToLoginPrompt reboots the unit unless it already waits for a login.
func (d *Device) GoToLoginPrompt() error {
	switch d.state {
	case LoginPrompt:
		return nil
	case Shutdown:
		return d.awaitLogin()
	}
	return d.Reboot()
}

// GoTo walks the menu graph one edge at a time until the console reaches
// target. Every step writes one command and reads the reply; the state only
// moves on replies that identify a screen. An edge that keeps producing
// unhelpful replies is retried MaxEdgeAttempts times before ErrDesync, and
// the whole walk gives up with ErrDesync after MaxSteps steps.
func (d *Device) GoTo(target State) error {
	if target == LoginPrompt {
		return d.GoToLoginPrompt()
	}
	if target == Shutdown {
		return fmt.Errorf("device: %s is not a navigation target", target)
	}

	attempts, steps := 0, 0
	for d.state != target {
		from := d.state
		if steps >= d.opts.MaxSteps {
			return fmt.Errorf("%w: no route to %s after %d steps, last at %s", ErrDesync, target, steps, from)
		}
		steps++
		if from == Shutdown {
			if err := d.awaitLogin(); err != nil {
				return err
			}
			continue
		}

		cmd := nextHop(from, target)
		if err := d.conn.Write(cmd); err != nil {
			return err
		}
		resp := d.conn.Read()
		d.observe(resp)

		if d.state != from {
			attempts = 0
			d.log.V(1).Info("Moved", "from", from, "to", d.state, "target", target)
			continue
		}

		attempts++
		d.log.Error(nil, "Unrecognised reply while navigating",
			"state", from, "target", target, "command", cmd.String(),
			"response", resp.String(), "attempt", attempts)
		if attempts >= d.opts.MaxEdgeAttempts {
			return fmt.Errorf("%w: stuck at %s heading for %s", ErrDesync, from, target)
		}
		if from.inMenu() {
			d.resync()
		}
	}
	return nil
}

// nextHop is the command that moves the console one edge closer to target.
func nextHop(from, target State) console.Command {
	switch from {
	case LoginPrompt:
		return console.Login
	case ShellPrompt:
		return console.DebugShell
	case DebugMenu:
		switch target {
		case LifecycleMenu:
			return console.LifecycleMenu
		case BrightnessMenu:
			return console.BrightnessMenu
		}
		return console.Quit
	}
	// LifecycleMenu and BrightnessMenu only lead back up.
	return console.UpMenuLevel
}

// observe moves the tracked state to whatever the reply proves and counts
// reboots announced by the firmware.
func (d *Device) observe(resp console.Response) {
	switch resp.Kind {
	case console.Rebooting:
		d.reboots++
		d.log.Info("Unit rebooting", "reboots", d.reboots)
	case console.ShuttingDown:
		d.log.Info("Unit shutting down")
	case console.DebugCrash:
		d.log.Error(nil, "Debug menu crashed back to the shell")
	}
	if s, ok := Revealed(resp); ok {
		d.state = s
	}
}

// resync asks the current menu to redraw itself and takes whatever screen
// it shows.
func (d *Device) resync() {
	if err := d.conn.Write(console.RedrawMenu); err != nil {
		d.log.Error(err, "Redraw failed")
		return
	}
	d.observe(d.conn.Read())
}

// awaitLogin reads until a login prompt shows up. A U-Boot prompt is told
// to continue, and a long silence is answered with a newline.
func (d *Device) awaitLogin() error {
	d.state = Shutdown
	silent := 0
	for i := 0; i < d.opts.MaxBootReads; i++ {
		resp := d.conn.Read()
		d.observe(resp)

		switch resp.Kind {
		case console.LoginPrompt:
			d.state = LoginPrompt
			d.log.Info("Login prompt reached")
			return nil
		case console.UBootPrompt:
			d.log.Info("Bootloader prompt, continuing boot")
			if err := d.conn.Write(console.ContinueBoot); err != nil {
				d.log.Error(err, "Continue boot failed")
			}
		case console.Empty:
			silent++
			if silent%d.opts.NudgeAfter == 0 {
				d.log.V(1).Info("Console silent while booting, sending newline", "reads", silent)
				if err := d.conn.Write(console.Newline); err != nil {
					d.log.Error(err, "Newline failed")
				}
			}
			continue
		}
		silent = 0
		// Anything but the login prompt means the unit is still booting.
		d.state = Shutdown
	}
	return fmt.Errorf("%w after %d reads", ErrBootTimeout, d.opts.MaxBootReads)
}

// Reboot leaves the menu, asks the shell to restart if configured to, and
// waits for the login prompt.
func (d *Device) Reboot() error {
	d.log.Info("Rebooting")
	switch {
	case d.state == Shutdown:
		return d.awaitLogin()
	case d.state == LoginPrompt && d.opts.ExplicitReboot:
		if err := d.GoTo(ShellPrompt); err != nil {
			return err
		}
	case d.state.inMenu():
		if err := d.conn.Write(console.Quit); err != nil {
			return err
		}
	}
	if d.opts.ExplicitReboot {
		if err := d.conn.Write(console.Reboot); err != nil {
			return err
		}
	}
	return d.awaitLogin()
}
