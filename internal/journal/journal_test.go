package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/seymour-life/internal/bench"
	"github.com/shaunagostinho/seymour-life/internal/counter"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func files(t *testing.T, dir string) []string {
	t.Helper()
	out, err := filepath.Glob(filepath.Join(dir, "cycles_*.csv"))
	require.NoError(t, err)
	return out
}

func TestJournal_WritesRows(t *testing.T) {
	dir := t.TempDir()
	j := New(Config{Enabled: true, Path: dir}, logr.Discard())
	defer j.Close()

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Record(bench.Outcome{
		Time: ts, Port: "/dev/ttyUSB0", Serial: "SL1", Iteration: 2, Cycle: 3,
		BPStart: true, Success: true, TempCount: 17,
		Counters: counter.Counters{Reboots: 4, BPs: 9, Temps: 17},
	}))
	require.NoError(t, j.Record(bench.Outcome{
		Time: ts, Port: "/dev/ttyUSB0", Serial: "SL1", Err: errors.New("bench: BP cycle did not finish"),
	}))

	paths := files(t, dir)
	require.Len(t, paths, 1)
	rows := readCSV(t, paths[0])
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"2024-03-01T12:00:00Z", "/dev/ttyUSB0", "SL1", "2", "3",
		"1", "0", "1", "17", "4", "9", "17", "",
	}, rows[1])
	assert.Equal(t, "bench: BP cycle did not finish", rows[2][12])
}

func TestJournal_Rotates(t *testing.T) {
	dir := t.TempDir()
	j := New(Config{Enabled: true, Path: dir, MaxRows: 2}, logr.Discard())
	defer j.Close()
	tick := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Record(bench.Outcome{Cycle: i}))
	}
	assert.Len(t, files(t, dir), 3)
}

func TestJournal_Disabled(t *testing.T) {
	dir := t.TempDir()
	j := New(Config{Path: dir}, logr.Discard())
	assert.False(t, j.IsEnabled())

	require.NoError(t, j.Record(bench.Outcome{}))
	assert.Empty(t, files(t, dir))

	j.SetEnabled(true)
	require.NoError(t, j.Record(bench.Outcome{}))
	assert.Len(t, files(t, dir), 1)
	j.SetEnabled(false)
}
