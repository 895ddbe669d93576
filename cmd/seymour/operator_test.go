package main

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/seymour-life/internal/bench"
	"github.com/shaunagostinho/seymour-life/internal/config"
	"github.com/shaunagostinho/seymour-life/internal/console"
	"github.com/shaunagostinho/seymour-life/internal/counter"
	"github.com/shaunagostinho/seymour-life/internal/device"
	"github.com/shaunagostinho/seymour-life/internal/relay"
	"github.com/shaunagostinho/seymour-life/internal/sim"
	"github.com/shaunagostinho/seymour-life/internal/tty"
)

func TestOperator_IterationsReprompts(t *testing.T) {
	var out bytes.Buffer
	op := newOperator(strings.NewReader("ten\n0\n-3\n 7 \n"), &out)

	n, err := op.Iterations()
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 4, strings.Count(out.String(), "Enter the number of iterations to complete: "))
	assert.Equal(t, 3, strings.Count(out.String(), "greater than zero"))
}

func TestOperator_SerialRefusesPaths(t *testing.T) {
	var out bytes.Buffer
	op := newOperator(strings.NewReader("\n../etc\nSL2210-0042\n"), &out)

	s, err := op.Serial()
	require.NoError(t, err)
	assert.Equal(t, "SL2210-0042", s)
	assert.Equal(t, 2, strings.Count(out.String(), "Please enter the serial"))
}

func TestOperator_EOF(t *testing.T) {
	op := newOperator(strings.NewReader(""), io.Discard)
	_, err := op.Iterations()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func openDevices(t *testing.T, rack *sim.Rack) []*device.Device {
	t.Helper()
	store := counter.NewStore(t.TempDir(), logr.Discard())
	classifier := console.NewClassifier(logr.Discard(), nil)
	var devs []*device.Device
	for _, p := range rack.Paths() {
		ch, err := tty.Open(p, rack.Opener(), classifier, tty.Options{Sleep: func(time.Duration) {}}, logr.Discard())
		require.NoError(t, err)
		t.Cleanup(func() { ch.Close() })
		devs = append(devs, device.New(ch, console.Response{Kind: console.LoginPrompt}, store, device.DefaultOptions(), logr.Discard()))
	}
	return devs
}

func TestIdentify_FallsBackToOperator(t *testing.T) {
	rack := sim.NewRack()
	rack.Add("/dev/ttySIM0", 4, sim.NewUnit(sim.Options{Serial: "SL2210-0100"}))
	rack.Add("/dev/ttySIM1", 5, sim.NewUnit(sim.Options{Serial: "SL2210-0101", BlankSerial: true}))
	devs := openDevices(t, rack)

	var out bytes.Buffer
	require.NoError(t, identify(devs, newOperator(strings.NewReader("SL2210-0101\n"), &out), logr.Discard()))

	assert.Equal(t, "SL2210-0100", devs[0].Serial())
	assert.Equal(t, "SL2210-0101", devs[1].Serial())
	assert.Contains(t, out.String(), "Dimming all screens")
	assert.Equal(t, 1, strings.Count(out.String(), "bright screen"))
	assert.False(t, rack.Unit("/dev/ttySIM0").Stats().Bright)
	assert.False(t, rack.Unit("/dev/ttySIM1").Stats().Bright)
}

func TestIdentify_NoPromptWhenSerialsRead(t *testing.T) {
	rack := sim.Demo(2, []int{4, 5})
	devs := openDevices(t, rack)

	var out bytes.Buffer
	require.NoError(t, identify(devs, newOperator(strings.NewReader(""), &out), logr.Discard()))
	assert.Empty(t, out.String())
	assert.Equal(t, "SL2210-0100", devs[0].Serial())
	assert.Equal(t, "SL2210-0101", devs[1].Serial())
}

func TestProvision_LeavesOutUnwiredUnits(t *testing.T) {
	rack := sim.NewRack()
	rack.Add("/dev/ttySIM0", -1, sim.NewUnit(sim.Options{Serial: "SL1"}))
	rack.Add("/dev/ttySIM1", 5, sim.NewUnit(sim.Options{Serial: "SL2"}))
	devs := openDevices(t, rack)
	for i, d := range devs {
		d.SetSerial([]string{"SL1", "SL2"}[i])
	}
	pool, err := relay.NewPool(rack, []int{4, 5}, logr.Discard())
	require.NoError(t, err)
	runner := bench.NewRunner(pool, bench.Timing{}, logr.Discard())

	var out bytes.Buffer
	got := provision(context.Background(), runner, devs, &out, logr.Discard())

	require.Len(t, got, 1)
	assert.Equal(t, "SL2", got[0].Serial())
	addr, ok := got[0].Relay()
	assert.True(t, ok)
	assert.Equal(t, 5, addr)
	assert.Contains(t, out.String(), "No relay found for SL1")
	assert.Contains(t, out.String(), "SL2 uses relay 5.")
}

func TestApplyFlags(t *testing.T) {
	saved := flags
	t.Cleanup(func() { flags = saved })
	flags.iterations, flags.bpCycles, flags.listen, flags.verbose = 4, 2, ":9090", true

	cfg := config.DefaultConfig()
	applyFlags(cfg)
	assert.Equal(t, 4, cfg.Bench.Iterations)
	assert.Equal(t, 2, cfg.Bench.BPCycles)
	assert.Equal(t, ":9090", cfg.Monitor.ListenAddr)
	assert.True(t, cfg.Logs.Verbose)
}
