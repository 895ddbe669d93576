package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileTimeFormat stamps the run log and the per-port error files.
const FileTimeFormat = "2006-01-02_15.04.05"

// Options configures the run's log sinks.
type Options struct {
	// LogDir receives output-<time>.log with everything down to trace.
	LogDir string
	// ErrorsDir receives one <time>-<port>.errors file per port.
	ErrorsDir string
	// Verbose lowers the console threshold from warnings to info.
	Verbose bool
	// Console defaults to stderr. A writer other than a terminal gets JSON.
	Console io.Writer
	Now     func() time.Time
}

// Logs owns the run's sinks. Loggers derived from it stay valid until Close.
type Logs struct {
	Logger logr.Logger

	opts    Options
	stamp   string
	file    *lumberjack.Logger
	console zerolog.LevelWriter

	mu     sync.Mutex
	errors []io.Closer
}

// New sets up the run log file and the console.
func New(opts Options) (*Logs, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LogDir == "" {
		opts.LogDir = "logs"
	}
	if opts.ErrorsDir == "" {
		opts.ErrorsDir = "output"
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerologr.NameFieldName = "logger"
	zerologr.NameSeparator = "/"
	zerologr.SetMaxV(2)
	zerolog.SetGlobalLevel(zerolog.TraceLevel)

	if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("logging: create %s: %w", opts.LogDir, err)
	}
	l := &Logs{
		opts:  opts,
		stamp: opts.Now().Format(FileTimeFormat),
	}
	l.file = &lumberjack.Logger{
		Filename:   filepath.Join(opts.LogDir, "output-"+l.stamp+".log"),
		MaxSize:    50, // megabytes
		MaxBackups: 10,
	}

	level := zerolog.WarnLevel
	if opts.Verbose {
		level = zerolog.InfoLevel
	}
	l.console = &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: consoleWriter(opts.Console)},
		Level:  level,
	}

	l.Logger = l.build(nil)
	l.Logger.V(1).Info("Logging initialised", "file", l.file.Filename, "console", level.String())
	return l, nil
}

// Bootstrap logs warnings and errors to stderr until the run's sinks exist.
func Bootstrap() logr.Logger {
	zl := zerolog.New(consoleWriter(nil)).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	return zerologr.New(&zl)
}

// File returns the path of the run log.
func (l *Logs) File() string { return l.file.Filename }

func (l *Logs) build(extra zerolog.LevelWriter) logr.Logger {
	writers := []io.Writer{zerolog.LevelWriterAdapter{Writer: l.file}, l.console}
	if extra != nil {
		writers = append(writers, extra)
	}
	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.TraceLevel).
		With().Timestamp().Logger()
	return zerologr.New(&zl)
}

// ForPort returns a logger that also copies warnings and errors into the
// port's own .errors file under ErrorsDir.
func (l *Logs) ForPort(port string) (logr.Logger, error) {
	if err := os.MkdirAll(l.opts.ErrorsDir, 0755); err != nil {
		return l.Logger, fmt.Errorf("logging: create %s: %w", l.opts.ErrorsDir, err)
	}
	name := fmt.Sprintf("%s-%s.errors", l.stamp, portName(port))
	path := filepath.Join(l.opts.ErrorsDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return l.Logger, fmt.Errorf("logging: open %s: %w", path, err)
	}
	l.mu.Lock()
	l.errors = append(l.errors, f)
	l.mu.Unlock()

	sink := &zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: f},
		Level:  zerolog.WarnLevel,
	}
	return l.build(sink), nil
}

// Close flushes the run log and every .errors file.
func (l *Logs) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for _, c := range l.errors {
		errs = append(errs, c.Close())
	}
	l.errors = nil
	errs = append(errs, l.file.Close())
	return errors.Join(errs...)
}

// ErrorsPath returns the .errors file that ForPort(port) writes.
func (l *Logs) ErrorsPath(port string) string {
	return filepath.Join(l.opts.ErrorsDir, fmt.Sprintf("%s-%s.errors", l.stamp, portName(port)))
}

func portName(port string) string {
	name := filepath.Base(port)
	return strings.NewReplacer(string(filepath.Separator), "_", ":", "_").Replace(name)
}

func consoleWriter(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	if !IsTerminal() {
		return os.Stderr
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stderr,
		NoColor:    !isColorTerminal(),
		TimeFormat: time.RFC3339,
	}
}

// IsTerminal reports whether stderr is an interactive terminal.
func IsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func isColorTerminal() bool {
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return IsTerminal()
}
