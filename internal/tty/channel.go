package tty

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/shaunagostinho/seymour-life/internal/console"
)

// ErrClosed is returned when writing to a channel whose port could not be reopened.
var ErrClosed = errors.New("tty: port closed")

const (
	// DefaultSettle is the pause after every write. The firmware redraws its
	// menus asynchronously and a read issued sooner races the redraw.
	DefaultSettle = 500 * time.Millisecond
	// DefaultReadTimeout bounds a single read from the port.
	DefaultReadTimeout = 500 * time.Millisecond
	// DefaultReconnectAfter is the number of consecutive empty reads after
	// which the port is closed and reopened.
	DefaultReconnectAfter = 15
	// DefaultWriteAttempts is how often a failed write is retried.
	DefaultWriteAttempts = 3

	readBufferSize = 4096
)

// Options tunes a Channel. Zero ReadTimeout, ReconnectAfter and
// WriteAttempts select the defaults; a zero Settle disables the pause.
type Options struct {
	Settle         time.Duration
	ReadTimeout    time.Duration
	ReconnectAfter int
	WriteAttempts  int
	// Sleep replaces time.Sleep, mostly for tests.
	Sleep func(time.Duration)
}

func (o Options) withDefaults() Options {
	if o.Settle < 0 {
		o.Settle = 0
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.ReconnectAfter <= 0 {
		o.ReconnectAfter = DefaultReconnectAfter
	}
	if o.WriteAttempts <= 0 {
		o.WriteAttempts = DefaultWriteAttempts
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	return o
}

// DefaultOptions returns the timings used against real hardware.
func DefaultOptions() Options {
	return Options{
		Settle:         DefaultSettle,
		ReadTimeout:    DefaultReadTimeout,
		ReconnectAfter: DefaultReconnectAfter,
		WriteAttempts:  DefaultWriteAttempts,
	}
}

// Channel is one duplex console connection to a unit. It is owned by a
// single goroutine and is not safe for concurrent use.
type Channel struct {
	path       string
	open       Opener
	port       Port
	classifier *console.Classifier
	opts       Options
	log        logr.Logger

	failedReads   int
	writeFailures int
	reopens       int
}

// Open connects to path through opener.
func Open(path string, opener Opener, classifier *console.Classifier, opts Options, log logr.Logger) (*Channel, error) {
	port, err := opener(path)
	if err != nil {
		return nil, err
	}
	c := &Channel{
		path:       path,
		open:       opener,
		port:       port,
		classifier: classifier,
		opts:       opts.withDefaults(),
		log:        log.WithName("tty").WithValues("port", path),
	}
	c.log.V(1).Info("Opened console", "settle", c.opts.Settle, "readTimeout", c.opts.ReadTimeout)
	return c, nil
}

// SetLogger replaces the channel's logger, typically with one that also
// feeds the port's own error file.
func (c *Channel) SetLogger(log logr.Logger) {
	c.log = log.WithName("tty").WithValues("port", c.path)
}

// Path returns the serial address the channel was opened on.
func (c *Channel) Path() string { return c.path }

// FailedReads returns the current run of consecutive empty reads.
func (c *Channel) FailedReads() int { return c.failedReads }

// Reopens returns how many times the port has been reopened.
func (c *Channel) Reopens() int { return c.reopens }

// Write sends the literal for cmd, flushes it and waits for the settle
// interval. Consecutive failures are logged once per streak.
func (c *Channel) Write(cmd console.Command) error {
	data := cmd.Bytes()
	if data == nil {
		return fmt.Errorf("tty: unknown command %d", int(cmd))
	}

	var err error
	for attempt := 1; attempt <= c.opts.WriteAttempts; attempt++ {
		if err = c.writeAll(data); err == nil {
			break
		}
		c.writeFailures++
		if c.writeFailures == 1 {
			c.log.Error(err, "Write failed, retrying", "command", cmd.String())
		} else {
			c.log.V(1).Info("Write still failing", "command", cmd.String(), "failures", c.writeFailures)
		}
	}
	if err != nil {
		c.opts.Sleep(c.opts.Settle)
		return fmt.Errorf("tty: write %s to %s: %w", cmd, c.path, err)
	}
	if c.writeFailures > 0 {
		c.log.Info("Write recovered", "command", cmd.String(), "failures", c.writeFailures)
		c.writeFailures = 0
	}

	c.log.V(1).Info("Wrote", "command", cmd.String(), "bytes", string(data))
	c.opts.Sleep(c.opts.Settle)
	return nil
}

func (c *Channel) writeAll(data []byte) error {
	if c.port == nil {
		return ErrClosed
	}
	for len(data) > 0 {
		n, err := c.port.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("tty: short write")
		}
		data = data[n:]
	}
	return c.port.Drain()
}

// Read drains whatever the unit has sent and classifies it. Empty reads are
// counted; once ReconnectAfter of them happen in a row the port is reopened
// and the read retried once. A password prompt is answered with a bare
// newline and the following read is returned instead.
func (c *Channel) Read() console.Response {
	resp := c.readOnce()
	if resp.Is(console.PasswordPrompt) {
		c.log.Error(nil, "Unexpected password prompt, sending newline")
		if err := c.Write(console.Newline); err != nil {
			c.log.Error(err, "Could not answer password prompt")
		}
		resp = c.readOnce()
	}
	return resp
}

func (c *Channel) readOnce() console.Response {
	buf := c.drain()
	if len(buf) > 0 {
		c.failedReads = 0
		resp := c.classifier.Classify(buf)
		c.log.V(1).Info("Read", "response", resp.String(), "raw", string(buf))
		return resp
	}

	c.failedReads++
	c.log.V(1).Info("Empty read", "failedReads", c.failedReads)
	if c.failedReads < c.opts.ReconnectAfter {
		return console.Response{Kind: console.Empty}
	}

	c.log.Info("Console silent, reopening port", "failedReads", c.failedReads)
	c.reopen()
	c.failedReads = 0
	buf = c.drain()
	resp := c.classifier.Classify(buf)
	c.log.V(1).Info("Read after reopen", "response", resp.String())
	return resp
}

// drain reads until the port goes quiet, the buffer is full or a few read
// timeouts have passed.
func (c *Channel) drain() []byte {
	if c.port == nil {
		return nil
	}
	out := make([]byte, 0, readBufferSize)
	chunk := make([]byte, readBufferSize)
	deadline := time.Now().Add(4 * c.opts.ReadTimeout)

	for len(out) < readBufferSize {
		n, err := c.port.Read(chunk[:readBufferSize-len(out)])
		if n > 0 {
			out = append(out, chunk[:n]...)
		}
		if err != nil {
			c.log.V(1).Info("Read error", "error", err.Error())
			break
		}
		if n == 0 || time.Now().After(deadline) {
			break
		}
	}
	return out
}

func (c *Channel) reopen() {
	if c.port != nil {
		if err := c.port.Close(); err != nil {
			c.log.V(1).Info("Close before reopen failed", "error", err.Error())
		}
		c.port = nil
	}
	c.reopens++
	port, err := c.open(c.path)
	if err != nil {
		c.log.Error(err, "Reopen failed")
		return
	}
	c.port = port
	c.log.Info("Port reopened", "reopens", c.reopens)
}

// Close releases the port.
func (c *Channel) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	return err
}
