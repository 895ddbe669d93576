package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogs(t *testing.T, verbose bool) (*Logs, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	var console bytes.Buffer
	l, err := New(Options{
		LogDir:    filepath.Join(dir, "logs"),
		ErrorsDir: filepath.Join(dir, "output"),
		Verbose:   verbose,
		Console:   &console,
		Now:       func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, &console, dir
}

func read(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestNew_FileGetsEverythingConsoleGetsErrors(t *testing.T) {
	l, console, dir := newTestLogs(t, false)
	assert.Equal(t, filepath.Join(dir, "logs", "output-2024-03-01_09.30.00.log"), l.File())

	l.Logger.WithName("tty").V(2).Info("raw bytes", "raw", "root@")
	l.Logger.Info("progress")
	l.Logger.Error(errors.New("boom"), "write failed")

	file := read(t, l.File())
	assert.Contains(t, file, "raw bytes")
	assert.Contains(t, file, `"logger":"tty"`)
	assert.Contains(t, file, "progress")
	assert.Contains(t, file, "write failed")

	assert.NotContains(t, console.String(), "progress")
	assert.NotContains(t, console.String(), "raw bytes")
	assert.Contains(t, console.String(), "write failed")
}

func TestNew_VerboseConsole(t *testing.T) {
	l, console, _ := newTestLogs(t, true)

	l.Logger.Info("progress")
	l.Logger.V(1).Info("chatter")

	assert.Contains(t, console.String(), "progress")
	assert.NotContains(t, console.String(), "chatter")
}

func TestForPort_ErrorsFile(t *testing.T) {
	l, _, dir := newTestLogs(t, false)

	log, err := l.ForPort("/dev/ttyUSB0")
	require.NoError(t, err)
	log = log.WithValues("port", "/dev/ttyUSB0")
	log.Info("navigating")
	log.Error(errors.New("desync"), "stuck")
	l.Logger.Error(errors.New("other"), "elsewhere")

	path := filepath.Join(dir, "output", "2024-03-01_09.30.00-ttyUSB0.errors")
	assert.Equal(t, path, l.ErrorsPath("/dev/ttyUSB0"))
	errs := read(t, path)
	assert.Contains(t, errs, "stuck")
	assert.Contains(t, errs, "desync")
	assert.NotContains(t, errs, "navigating")
	assert.NotContains(t, errs, "elsewhere")

	assert.Contains(t, read(t, l.File()), "navigating")
}
