package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/shaunagostinho/seymour-life/internal/device"
	"github.com/shaunagostinho/seymour-life/internal/relay"
)

// Relays is the part of the relay pool the bench drives.
// *relay.Pool implements it.
type Relays interface {
	Set(addr int, high bool) error
	Claim(try func(addr int) (bool, error)) (int, error)
}

// Timing holds the bench's waits. Zero durations do not wait at all.
type Timing struct {
	// ProbeSettle is how long a relay stays high while searching for the
	// unit it is wired to.
	ProbeSettle time.Duration
	// PulseWindow is how long the relay stays high during a BP cycle.
	PulseWindow time.Duration
	// PollInterval separates "is BP running" polls.
	PollInterval time.Duration
	// MaxPolls bounds the polls spent waiting for a BP cycle to end.
	MaxPolls int
}

// DefaultTiming suits the real hardware.
func DefaultTiming() Timing {
	return Timing{
		ProbeSettle:  5 * time.Second,
		PulseWindow:  5 * time.Second,
		PollInterval: time.Second,
		MaxPolls:     900,
	}
}

// Runner drives units through provisioning and test cycles. One Runner is
// shared by every worker; each Device must only be used by one worker.
type Runner struct {
	relays Relays
	timing Timing
	log    logr.Logger

	mu        sync.Mutex
	recorders []Recorder
	observers []Observer
}

func NewRunner(relays Relays, timing Timing, log logr.Logger) *Runner {
	if timing.MaxPolls <= 0 {
		timing.MaxPolls = DefaultTiming().MaxPolls
	}
	return &Runner{relays: relays, timing: timing, log: log.WithName("bench")}
}

// OnOutcome adds a recorder for cycle outcomes.
func (r *Runner) OnOutcome(rec Recorder) {
	r.mu.Lock()
	r.recorders = append(r.recorders, rec)
	r.mu.Unlock()
}

// OnSnapshot adds an observer for status changes.
func (r *Runner) OnSnapshot(obs Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, obs)
	r.mu.Unlock()
}

// progress is where a worker is in its run, for snapshots.
type progress struct {
	iteration, iterations int
	cycle, cycles         int
}

// ProbeAssign finds the relay wired to d's temperature probe: every free
// relay is raised in turn and the one that moves the firmware's probe-pull
// count is bound to d. Devices must be assigned one after another; the
// pool stays locked for the whole search.
func (r *Runner) ProbeAssign(ctx context.Context, d *device.Device) error {
	log := r.log.WithValues("port", d.Port(), "serial", d.Serial())
	r.publish(d, PhaseProvisioning, progress{}, nil)

	base, err := d.TempCount()
	if err != nil {
		err = Fatal(fmt.Errorf("%w: baseline probe count on %s: %v", ErrProvisioning, d.Port(), err))
		log.Error(err, "Provisioning failed")
		r.publish(d, PhaseFailed, progress{}, err)
		return err
	}
	d.SetBaseline(base)

	addr, err := r.relays.Claim(func(addr int) (bool, error) {
		if err := r.relays.Set(addr, true); err != nil {
			return false, Fatal(err)
		}
		werr := sleep(ctx, r.timing.ProbeSettle)
		n, terr := d.TempCount()
		if err := r.relays.Set(addr, false); err != nil {
			return false, Fatal(err)
		}
		if werr != nil {
			return false, werr
		}
		if terr != nil {
			log.V(1).Info("No probe count while trying relay", "relay", addr, "error", terr.Error())
			return false, nil
		}
		if n == base {
			log.V(1).Info("Relay not wired to this unit", "relay", addr)
			return false, nil
		}
		d.ObserveTemps(n)
		return true, nil
	})
	switch {
	case errors.Is(err, relay.ErrNoMatch):
		err = Fatal(fmt.Errorf("%w: tried every free relay for %s", ErrProvisioning, d.Port()))
		log.Error(err, "Provisioning failed, check the relay wiring")
		r.publish(d, PhaseFailed, progress{}, err)
		return err
	case err != nil:
		log.Error(err, "Provisioning aborted")
		r.publish(d, PhaseFailed, progress{}, err)
		return err
	}

	d.SetRelay(addr)
	r.publish(d, PhaseIdle, progress{}, nil)
	return nil
}

// Run repeats RunCycle iterations times. Retryable failures are logged and
// the next iteration starts; fatal ones and cancellation end the run.
func (r *Runner) Run(ctx context.Context, d *device.Device, iterations, bpCycles int) error {
	for i := 1; i <= iterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.log.Info(fmt.Sprintf("Starting iteration %d of %d for device %s", i, iterations, d.Serial()),
			"port", d.Port())
		p := progress{iteration: i, iterations: iterations, cycles: bpCycles}
		if err := r.runCycle(ctx, d, bpCycles, p); err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				r.publish(d, PhaseFailed, p, err)
				return err
			}
			r.log.Error(err, "Iteration failed, continuing", "port", d.Port(), "serial", d.Serial(), "iteration", i)
		}
	}
	r.publish(d, PhaseDone, progress{iteration: iterations, iterations: iterations, cycles: bpCycles}, nil)
	return nil
}

// RunCycle runs bpCycles BP cycles on d, pulsing its relay during each,
// then reboots the unit. Counters are saved after every successful cycle
// and once more at the end.
func (r *Runner) RunCycle(ctx context.Context, d *device.Device, bpCycles int) error {
	return r.runCycle(ctx, d, bpCycles, progress{iteration: 1, iterations: 1, cycles: bpCycles})
}

func (r *Runner) runCycle(ctx context.Context, d *device.Device, bpCycles int, p progress) error {
	log := r.log.WithValues("port", d.Port(), "serial", d.Serial())
	addr, ok := d.Relay()
	if !ok {
		return Fatal(fmt.Errorf("%w: %s has no relay", ErrProvisioning, d.Port()))
	}

	if d.State() != device.LoginPrompt {
		r.publish(d, PhaseRebooting, p, nil)
		if err := d.Reboot(); err != nil {
			return err
		}
	}
	if err := d.GoToLifecycleMenu(); err != nil {
		return err
	}
	base, err := d.TempCount()
	if err != nil {
		return err
	}
	d.SetBaseline(base)

	for c := 1; c <= bpCycles; c++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.cycle = c
		out, err := r.bpCycle(ctx, d, addr, p)
		out.Err = err
		r.record(out)
		if err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				return err
			}
			log.Error(err, "BP cycle failed", "cycle", c)
		}
	}

	r.publish(d, PhaseRebooting, p, nil)
	rebootErr := d.Reboot()
	if rebootErr != nil {
		log.Error(rebootErr, "Final reboot failed")
	}
	saveErr := d.Save()
	r.publish(d, PhaseIdle, p, nil)
	return errors.Join(rebootErr, saveErr)
}

// bpCycle starts one BP cycle and pulls the probe while it runs. The cycle
// counts as a success when "is BP running" differs between the sample
// taken after starting and the one taken once polling saw it stop.
func (r *Runner) bpCycle(ctx context.Context, d *device.Device, addr int, p progress) (out Outcome, err error) {
	out = Outcome{Port: d.Port(), Serial: d.Serial(), Iteration: p.iteration, Cycle: p.cycle}
	defer func() {
		out.Time = time.Now()
		out.Counters = d.Counters()
	}()
	r.publish(d, PhaseBP, p, nil)

	if err := d.StartBP(); err != nil {
		return out, err
	}
	start, err := d.IsBPRunning()
	if err != nil {
		return out, err
	}
	out.BPStart = start

	if start {
		if err := r.pulse(ctx, addr); err != nil {
			return out, err
		}
	}

	r.publish(d, PhasePolling, p, nil)
	if err := r.pollUntilIdle(ctx, d); err != nil {
		return out, err
	}
	end, err := d.IsBPRunning()
	if err != nil {
		return out, err
	}
	out.BPEnd = end

	if n, err := d.TempCount(); err == nil {
		d.ObserveTemps(n)
		out.TempCount = n
	}

	if start != end {
		out.Success = true
		d.RecordBP()
		r.log.Info("BP cycle passed", "port", d.Port(), "serial", d.Serial(), "cycle", p.cycle, "bps", d.Counters().BPs)
		if err := d.Save(); err != nil {
			return out, err
		}
	} else {
		r.log.Info("BP cycle did not change state", "port", d.Port(), "serial", d.Serial(), "cycle", p.cycle, "running", start)
	}
	return out, nil
}

func (r *Runner) pulse(ctx context.Context, addr int) error {
	if err := r.relays.Set(addr, true); err != nil {
		return Fatal(err)
	}
	werr := sleep(ctx, r.timing.PulseWindow)
	if err := r.relays.Set(addr, false); err != nil {
		return Fatal(err)
	}
	return werr
}

func (r *Runner) pollUntilIdle(ctx context.Context, d *device.Device) error {
	for i := 0; i < r.timing.MaxPolls; i++ {
		running, err := d.IsBPRunning()
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		if err := sleep(ctx, r.timing.PollInterval); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w after %d polls", ErrPollTimeout, r.timing.MaxPolls)
}

func (r *Runner) record(o Outcome) {
	r.mu.Lock()
	recs := append([]Recorder(nil), r.recorders...)
	r.mu.Unlock()
	for _, rec := range recs {
		if err := rec.Record(o); err != nil {
			r.log.Error(err, "Outcome not recorded", "port", o.Port)
		}
	}
}

func (r *Runner) publish(d *device.Device, phase Phase, p progress, err error) {
	r.mu.Lock()
	obs := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	if len(obs) == 0 {
		return
	}
	s := Snapshot{
		Port:       d.Port(),
		Serial:     d.Serial(),
		State:      d.State().String(),
		Relay:      -1,
		Phase:      phase,
		Iteration:  p.iteration,
		Iterations: p.iterations,
		Cycle:      p.cycle,
		Cycles:     p.cycles,
		Counters:   d.Counters(),
		Updated:    time.Now(),
	}
	if addr, ok := d.Relay(); ok {
		s.Relay = addr
	}
	if err != nil {
		s.Error = err.Error()
	}
	for _, o := range obs {
		o.Observe(s)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
