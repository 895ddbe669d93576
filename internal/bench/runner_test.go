package bench

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/seymour-life/internal/console"
	"github.com/shaunagostinho/seymour-life/internal/counter"
	"github.com/shaunagostinho/seymour-life/internal/device"
	"github.com/shaunagostinho/seymour-life/internal/relay"
	"github.com/shaunagostinho/seymour-life/internal/sim"
	"github.com/shaunagostinho/seymour-life/internal/tty"
)

const unitPath = "/dev/ttySIM0"

// spyStore records every save on top of a real counter store.
type spyStore struct {
	*counter.Store
	saves []counter.Counters
}

func (s *spyStore) Save(serial string, c counter.Counters) error {
	s.saves = append(s.saves, c)
	return s.Store.Save(serial, c)
}

type recorded struct {
	mu       sync.Mutex
	outcomes []Outcome
	phases   []Phase
}

func (r *recorded) Record(o Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	return nil
}

func (r *recorded) Observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, s.Phase)
}

type fixture struct {
	rack   *sim.Rack
	unit   *sim.Unit
	pool   *relay.Pool
	store  *spyStore
	dev    *device.Device
	runner *Runner
	rec    *recorded
}

func newFixture(t *testing.T, wiredTo int, opts sim.Options, timing Timing) *fixture {
	t.Helper()
	f := &fixture{rack: sim.NewRack(), unit: sim.NewUnit(opts), rec: &recorded{}}
	f.rack.Add(unitPath, wiredTo, f.unit)

	var err error
	f.pool, err = relay.NewPool(f.rack, []int{4, 5, 6}, logr.Discard())
	require.NoError(t, err)

	ch, err := tty.Open(unitPath, f.rack.Opener(), console.NewClassifier(logr.Discard(), nil),
		tty.Options{Sleep: func(time.Duration) {}}, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	f.store = &spyStore{Store: counter.NewStore(t.TempDir(), logr.Discard())}
	f.dev = device.New(ch, console.Response{Kind: console.LoginPrompt}, f.store, device.DefaultOptions(), logr.Discard())
	f.dev.SetSerial(opts.Serial)
	f.store.saves = nil

	f.runner = NewRunner(f.pool, timing, logr.Discard())
	f.runner.OnOutcome(f.rec)
	f.runner.OnSnapshot(f.rec)
	return f
}

func TestProbeAssign_BindsWiredRelay(t *testing.T) {
	f := newFixture(t, 5, sim.Options{Serial: "SL1"}, Timing{})

	require.NoError(t, f.runner.ProbeAssign(context.Background(), f.dev))

	addr, ok := f.dev.Relay()
	require.True(t, ok)
	assert.Equal(t, 5, addr)
	assert.Equal(t, []int{4, 6}, f.pool.Unassigned())
	assert.False(t, f.rack.Level(4))
	assert.False(t, f.rack.Level(5))
	assert.Equal(t, uint64(1), f.unit.Stats().Pulls)
}

func TestProbeAssign_NoRelayIsFatal(t *testing.T) {
	f := newFixture(t, 12, sim.Options{Serial: "SL1"}, Timing{})

	err := f.runner.ProbeAssign(context.Background(), f.dev)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrProvisioning)
	_, ok := f.dev.Relay()
	assert.False(t, ok)
	assert.Equal(t, []int{4, 5, 6}, f.pool.Unassigned())
	assert.Contains(t, f.rec.phases, PhaseFailed)
}

func TestRunCycle_CountsSuccessfulBP(t *testing.T) {
	f := newFixture(t, 5, sim.Options{Serial: "SL1", BPChecks: 2}, Timing{})
	ctx := context.Background()
	require.NoError(t, f.runner.ProbeAssign(ctx, f.dev))

	require.NoError(t, f.runner.RunCycle(ctx, f.dev, 1))

	// One reboot to leave the menu provisioning ended in, one at the end.
	want := counter.Counters{Reboots: 2, BPs: 1, Temps: 2}
	assert.Equal(t, want, f.dev.Counters())
	require.Len(t, f.store.saves, 2, "saved after the cycle and at the end")
	assert.Equal(t, counter.Counters{Reboots: 1, BPs: 1, Temps: 2}, f.store.saves[0])
	assert.Equal(t, want, f.store.saves[1])

	got, err := f.store.Load("SL1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.Len(t, f.rec.outcomes, 1)
	o := f.rec.outcomes[0]
	assert.True(t, o.BPStart)
	assert.False(t, o.BPEnd)
	assert.True(t, o.Success)
	assert.Equal(t, uint64(2), o.TempCount)
	assert.NoError(t, o.Err)

	assert.Equal(t, device.LoginPrompt, f.dev.State())
	assert.Equal(t, 1, f.unit.Stats().BPStarts)
}

func TestRunCycle_PollTimeoutContinues(t *testing.T) {
	f := newFixture(t, 5, sim.Options{Serial: "SL1", BPChecks: 50}, Timing{MaxPolls: 3})
	ctx := context.Background()
	require.NoError(t, f.runner.ProbeAssign(ctx, f.dev))

	require.NoError(t, f.runner.RunCycle(ctx, f.dev, 2))

	require.Len(t, f.rec.outcomes, 2)
	for _, o := range f.rec.outcomes {
		assert.ErrorIs(t, o.Err, ErrPollTimeout)
		assert.False(t, o.Success)
	}
	assert.Zero(t, f.dev.Counters().BPs)
	assert.Equal(t, uint64(2), f.dev.Counters().Reboots)
}

func TestRunCycle_WithoutRelayIsFatal(t *testing.T) {
	f := newFixture(t, 5, sim.Options{Serial: "SL1"}, Timing{})

	err := f.runner.RunCycle(context.Background(), f.dev, 1)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrProvisioning)
}

func TestRun_Iterations(t *testing.T) {
	f := newFixture(t, 6, sim.Options{Serial: "SL1", BPChecks: 1, StopAtUBoot: true}, Timing{})
	ctx := context.Background()
	require.NoError(t, f.runner.ProbeAssign(ctx, f.dev))

	require.NoError(t, f.runner.Run(ctx, f.dev, 2, 2))

	c := f.dev.Counters()
	assert.Equal(t, uint64(4), c.BPs)
	assert.Equal(t, uint64(3), c.Reboots)
	assert.Equal(t, uint64(5), c.Temps)
	assert.Equal(t, 4, f.unit.Stats().BPStarts)
	assert.Len(t, f.rec.outcomes, 4)
	assert.Equal(t, PhaseDone, f.rec.phases[len(f.rec.phases)-1])
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	f := newFixture(t, 5, sim.Options{Serial: "SL1"}, Timing{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.runner.ProbeAssign(ctx, f.dev))
	cancel()

	err := f.runner.Run(ctx, f.dev, 3, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.unit.Stats().BPStarts)
}

func TestFatal(t *testing.T) {
	base := errors.New("gpio busy")
	err := Fatal(base)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, base)
	assert.Same(t, err, Fatal(err))
	assert.Nil(t, Fatal(nil))
	assert.False(t, IsFatal(base))
}
