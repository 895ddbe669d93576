package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/shaunagostinho/seymour-life/internal/bench"
	"github.com/shaunagostinho/seymour-life/internal/config"
	"github.com/shaunagostinho/seymour-life/internal/console"
	"github.com/shaunagostinho/seymour-life/internal/counter"
	"github.com/shaunagostinho/seymour-life/internal/device"
	"github.com/shaunagostinho/seymour-life/internal/journal"
	"github.com/shaunagostinho/seymour-life/internal/logging"
	"github.com/shaunagostinho/seymour-life/internal/monitor"
	"github.com/shaunagostinho/seymour-life/internal/relay"
	"github.com/shaunagostinho/seymour-life/internal/sim"
	"github.com/shaunagostinho/seymour-life/internal/tty"
	"github.com/shaunagostinho/seymour-life/web"
)

// hardware is what the bench talks to: real serial ports and GPIO lines, or
// a simulated rack.
type hardware struct {
	paths   []string
	opener  tty.Opener
	driver  relay.Driver
	ttyOpts tty.Options
	timing  bench.Timing
}

func applyFlags(cfg *config.Config) {
	if flags.iterations > 0 {
		cfg.Bench.Iterations = flags.iterations
	}
	if flags.bpCycles > 0 {
		cfg.Bench.BPCycles = flags.bpCycles
	}
	if flags.listen != "" {
		cfg.Monitor.ListenAddr = flags.listen
	}
	if flags.verbose {
		cfg.Logs.Verbose = true
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg := config.Load(flags.config, logging.Bootstrap())
	applyFlags(cfg)

	logs, err := logging.New(logging.Options{
		LogDir:    cfg.Logs.Dir,
		ErrorsDir: cfg.Output.Dir,
		Verbose:   cfg.Logs.Verbose,
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.Logger.WithName("main")
	log.Info("seymour starting", "config", cfg.Path(), "log", logs.File(), "demo", flags.demo)

	hw, err := openHardware(cfg, log)
	if err != nil {
		return err
	}
	pool, err := relay.NewPool(hw.driver, cfg.Relay.Addresses, logs.Logger)
	if err != nil {
		hw.driver.Close()
		return fmt.Errorf("relays unavailable: %w", err)
	}
	defer pool.Close()

	runner := bench.NewRunner(pool, hw.timing, logs.Logger)
	if cfg.Output.Journal {
		j := journal.New(journal.Config{
			Enabled: true,
			Path:    cfg.Output.Dir,
			MaxRows: cfg.Output.JournalMaxRows,
		}, logs.Logger)
		defer j.Close()
		runner.OnOutcome(j)
	}

	// Status sinks outlive the workers and stop once they are done.
	var bg errgroup.Group
	bgCtx, stopBG := context.WithCancel(ctx)
	defer func() {
		stopBG()
		bg.Wait()
	}()
	if cfg.Monitor.Enabled {
		srv := monitor.New(cfg, web.FS, logs.Logger)
		runner.OnSnapshot(srv)
		bg.Go(func() error {
			if err := srv.Run(bgCtx); err != nil {
				log.Error(err, "Monitor exited")
			}
			return nil
		})
	}
	if cfg.MQTT.Enabled {
		bg.Go(func() error {
			pub, err := dialWithRetry(bgCtx, cfg.MQTT, logs.Logger, 5)
			if err != nil {
				log.Error(err, "MQTT publishing disabled")
				return nil
			}
			runner.OnSnapshot(pub)
			<-bgCtx.Done()
			pub.Close()
			return nil
		})
	}

	fmt.Fprintf(out, "Testing %d ports. This may take a moment...\n", len(hw.paths))
	found := tty.Discover(hw.paths, hw.opener, console.NewClassifier(logs.Logger, nil), hw.ttyOpts, logs.Logger)
	if len(found) == 0 {
		return errors.New("no units answered on any port")
	}
	defer func() {
		for _, f := range found {
			f.Channel.Close()
		}
	}()

	store := counter.NewStore(cfg.Output.Dir, logs.Logger)
	opts := device.Options{
		MaxEdgeAttempts: cfg.Bench.MaxEdgeAttempts,
		MaxBootReads:    cfg.Bench.MaxBootReads,
		ExplicitReboot:  cfg.Bench.ExplicitReboot,
	}
	devs := make([]*device.Device, 0, len(found))
	for _, f := range found {
		plog, err := logs.ForPort(f.Channel.Path())
		if err != nil {
			log.Error(err, "No error file for port, using the run log", "port", f.Channel.Path())
			plog = logs.Logger
		}
		f.Channel.SetLogger(plog)
		devs = append(devs, device.New(f.Channel, f.Initial, store, opts, plog))
	}
	fmt.Fprintf(out, "Found %d units.\n", len(devs))

	op := newOperator(in, out)
	if err := identify(devs, op, log); err != nil {
		return err
	}
	assigned := provision(ctx, runner, devs, out, log)
	if len(assigned) == 0 {
		return errors.New("no unit could be matched to a relay")
	}

	iterations := cfg.Bench.Iterations
	if iterations <= 0 {
		if iterations, err = op.Iterations(); err != nil {
			return err
		}
	}

	var workers errgroup.Group
	for _, d := range assigned {
		d := d
		workers.Go(func() error {
			if err := runner.Run(ctx, d, iterations, cfg.Bench.BPCycles); err != nil {
				log.Error(err, "Unit stopped", "port", d.Port(), "serial", d.Serial())
			}
			return nil
		})
	}
	workers.Wait()

	summarise(out, assigned)
	if ctx.Err() != nil {
		log.Info("Interrupted, counters saved")
	}
	return nil
}

func openHardware(cfg *config.Config, log logr.Logger) (*hardware, error) {
	if flags.demo > 0 {
		rack := sim.Demo(flags.demo, cfg.Relay.Addresses)
		log.Info("Using simulated units", "units", flags.demo)
		return &hardware{
			paths:   rack.Paths(),
			opener:  rack.Opener(),
			driver:  rack,
			ttyOpts: tty.Options{Settle: 20 * time.Millisecond, ReconnectAfter: cfg.Serial.ReconnectAfter},
			timing: bench.Timing{
				ProbeSettle:  100 * time.Millisecond,
				PulseWindow:  100 * time.Millisecond,
				PollInterval: 100 * time.Millisecond,
				MaxPolls:     cfg.Bench.MaxPolls,
			},
		}, nil
	}

	paths, err := tty.ListPorts(cfg.Serial.Ports)
	if err != nil {
		return nil, err
	}
	driver, err := relay.OpenGPIO(cfg.Relay.Chip, cfg.Relay.Addresses)
	if err != nil {
		return nil, fmt.Errorf("relays unavailable: %w", err)
	}
	return &hardware{
		paths:  paths,
		opener: tty.SerialOpener(cfg.Serial.BaudRate, cfg.Serial.ReadTimeout()),
		driver: driver,
		ttyOpts: tty.Options{
			Settle:         cfg.Serial.Settle(),
			ReadTimeout:    cfg.Serial.ReadTimeout(),
			ReconnectAfter: cfg.Serial.ReconnectAfter,
		},
		timing: bench.Timing{
			ProbeSettle:  cfg.Relay.ProbeSettle(),
			PulseWindow:  cfg.Relay.Pulse(),
			PollInterval: cfg.Bench.PollInterval(),
			MaxPolls:     cfg.Bench.MaxPolls,
		},
	}, nil
}

// provision binds relays one unit at a time. Units that cannot be matched
// are reported and left out of the run.
func provision(ctx context.Context, runner *bench.Runner, devs []*device.Device, out io.Writer, log logr.Logger) []*device.Device {
	var ok []*device.Device
	for _, d := range devs {
		if ctx.Err() != nil {
			break
		}
		fmt.Fprintf(out, "Finding the relay for %s on %s...\n", d.Serial(), d.Port())
		if err := runner.ProbeAssign(ctx, d); err != nil {
			log.Error(err, "Unit left out of the run", "port", d.Port(), "serial", d.Serial())
			fmt.Fprintf(out, "No relay found for %s, check its probe wiring.\n", d.Serial())
			continue
		}
		addr, _ := d.Relay()
		fmt.Fprintf(out, "%s uses relay %d.\n", d.Serial(), addr)
		ok = append(ok, d)
	}
	return ok
}

// dialWithRetry connects to the broker with exponential backoff, starting
// at 1s and doubling up to 60s, giving up after maxAttempts.
func dialWithRetry(ctx context.Context, cfg config.MQTTConfig, log logr.Logger, maxAttempts int) (*monitor.Publisher, error) {
	delay := time.Second
	maxDelay := 60 * time.Second
	for attempt := 1; ; attempt++ {
		pub, err := monitor.DialMQTT(cfg, log)
		if err == nil {
			return pub, nil
		}
		if attempt >= maxAttempts {
			return nil, err
		}
		log.Info("MQTT connect failed, retrying", "attempt", attempt, "of", maxAttempts, "in", delay.String(), "error", err.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func summarise(out io.Writer, devs []*device.Device) {
	fmt.Fprintln(out, "\nSerial           Port              Reboots    BPs  Temps")
	for _, d := range devs {
		c := d.Counters()
		fmt.Fprintf(out, "%-16s %-16s %8d %6d %6d\n", d.Serial(), d.Port(), c.Reboots, c.BPs, c.Temps)
	}
}
