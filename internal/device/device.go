package device

import (
	"errors"

	"github.com/go-logr/logr"

	"github.com/shaunagostinho/seymour-life/internal/console"
	"github.com/shaunagostinho/seymour-life/internal/counter"
)

// Uninitialised is the serial of a unit that has not been identified yet.
const Uninitialised = "uninitialised"

var (
	// ErrDesync means a menu edge kept getting replies that did not move the
	// console, so the tracked state no longer matches the unit.
	ErrDesync = errors.New("device: console did not reach the expected menu")
	// ErrNoAnswer means a query got no usable reply even after a retry.
	ErrNoAnswer = errors.New("device: no usable reply")
	// ErrBootTimeout means no login prompt appeared while rebooting.
	ErrBootTimeout = errors.New("device: no login prompt after reboot")
	// ErrNoSerial means the serial number could not be read from the unit.
	ErrNoSerial = errors.New("device: serial number not found")
)

// Conn is the console connection a Device drives. *tty.Channel implements it.
type Conn interface {
	Write(cmd console.Command) error
	Read() console.Response
	Path() string
}

// Persister loads and saves counters by serial. *counter.Store implements it.
type Persister interface {
	Load(serial string) (counter.Counters, error)
	Save(serial string, c counter.Counters) error
}

// Options bounds the automaton's retries.
type Options struct {
	// MaxEdgeAttempts is how many replies that leave the state unchanged a
	// single menu edge tolerates before giving up with ErrDesync.
	MaxEdgeAttempts int
	// MaxSteps bounds the steps one navigation may take in total, counting
	// every command written and every wait for a login prompt. It catches
	// loops that keep changing state, such as a menu that crashes each time
	// it is entered.
	MaxSteps int
	// MaxBootReads bounds the reads spent waiting for a login prompt.
	MaxBootReads int
	// NudgeAfter sends a newline after this many silent reads while booting.
	NudgeAfter int
	// ExplicitReboot sends the shell reboot command after quitting the menu.
	ExplicitReboot bool
}

// DefaultOptions suits the real firmware at the default channel timings.
func DefaultOptions() Options {
	return Options{
		MaxEdgeAttempts: 5,
		MaxSteps:        30,
		MaxBootReads:    360,
		NudgeAfter:      20,
		ExplicitReboot:  true,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxEdgeAttempts <= 0 {
		o.MaxEdgeAttempts = d.MaxEdgeAttempts
	}
	if o.MaxSteps <= 0 {
		o.MaxSteps = d.MaxSteps
	}
	if o.MaxBootReads <= 0 {
		o.MaxBootReads = d.MaxBootReads
	}
	if o.NudgeAfter <= 0 {
		o.NudgeAfter = d.NudgeAfter
	}
	return o
}

// Device is one unit under test. It is mutated only by the goroutine that
// owns it.
type Device struct {
	conn  Conn
	store Persister
	opts  Options
	log   logr.Logger

	serial   string
	state    State
	relay    int
	hasRelay bool

	reboots    uint64
	bps        uint64
	temps      uint64
	initTemps  uint64
	tempOffset uint64
}

// New wraps conn. The starting state comes from the reply seen when the
// port was discovered; counters are loaded for the uninitialised serial
// until SetSerial is called.
func New(conn Conn, initial console.Response, store Persister, opts Options, log logr.Logger) *Device {
	d := &Device{
		conn:   conn,
		store:  store,
		opts:   opts.withDefaults(),
		serial: Uninitialised,
	}
	d.log = log.WithName("device").WithValues("port", conn.Path())

	state, ok := Initial(initial)
	if !ok {
		d.log.Info("Starting state unclear, assuming login prompt", "initial", initial.String())
	}
	d.state = state
	d.load()
	return d
}

func (d *Device) load() {
	c, err := d.store.Load(d.serial)
	if err != nil {
		d.log.Error(err, "Counters not loaded, starting from zero", "serial", d.serial)
		c = counter.Counters{}
	}
	d.reboots = c.Reboots
	d.bps = c.BPs
	d.temps, d.initTemps = 0, 0
	d.tempOffset = c.Temps
}

// Serial returns the unit serial or Uninitialised.
func (d *Device) Serial() string { return d.serial }

// Port returns the serial address of the console.
func (d *Device) Port() string { return d.conn.Path() }

// State returns the tracked menu state.
func (d *Device) State() State { return d.state }

// SetSerial names the unit and reloads its counters from its own file.
// A serial that cannot name a counter file is refused.
func (d *Device) SetSerial(serial string) {
	if serial == d.serial {
		return
	}
	if !counter.ValidSerial(serial) {
		d.log.Error(nil, "Serial refused, it cannot name a counter file", "serial", serial)
		return
	}
	d.log.Info("Port identified", "serial", serial)
	d.serial = serial
	d.log = d.log.WithValues("serial", serial)
	d.load()
}

// Relay returns the relay address bound to the unit's probe.
func (d *Device) Relay() (int, bool) { return d.relay, d.hasRelay }

// SetRelay binds a relay address to the unit.
func (d *Device) SetRelay(addr int) {
	d.relay = addr
	d.hasRelay = true
	d.log.Info("Relay bound", "relay", addr)
}

// Counters returns the values that would be persisted now.
func (d *Device) Counters() counter.Counters {
	return counter.Counters{
		Reboots: d.reboots,
		BPs:     d.bps,
		Temps:   d.savedTemps(),
	}
}

// savedTemps is the probe pulls counted this run on top of earlier runs.
// A firmware count below the baseline contributes nothing.
func (d *Device) savedTemps() uint64 {
	var delta uint64
	if d.temps > d.initTemps {
		delta = d.temps - d.initTemps
	}
	return delta + d.tempOffset
}

// SetBaseline makes n the new reference probe-pull count. Progress counted
// against the old baseline is carried over.
func (d *Device) SetBaseline(n uint64) {
	d.tempOffset = d.savedTemps()
	d.initTemps = n
	d.temps = n
}

// ObserveTemps records the latest probe-pull count read from the firmware.
func (d *Device) ObserveTemps(n uint64) { d.temps = n }

// RecordBP counts one successful BP cycle.
func (d *Device) RecordBP() { d.bps++ }

// Save persists the counters. A failure is logged and returned; the test
// loop is expected to carry on.
func (d *Device) Save() error {
	if err := d.store.Save(d.serial, d.Counters()); err != nil {
		d.log.Error(err, "Counters not saved")
		return err
	}
	return nil
}
