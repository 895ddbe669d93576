package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/shaunagostinho/seymour-life/internal/bench"
)

// Journal records one CSV row per BP cycle with automatic rotation.
type Journal struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool
	log     logr.Logger
	now     func() time.Time

	file   *os.File
	writer *csv.Writer
	rows   int
}

// Config holds journal configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"`
}

const defaultMaxRows = 100_000

var csvHeader = []string{
	"timestamp", "port", "serial", "iteration", "cycle",
	"bp_start", "bp_end", "success", "temp_count",
	"reboots", "bps", "temps", "error",
}

// New creates a Journal. Files are only created once the first row arrives.
func New(cfg Config, log logr.Logger) *Journal {
	if cfg.Path == "" {
		cfg.Path = "output"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = defaultMaxRows
	}
	return &Journal{
		dir:     cfg.Path,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
		log:     log.WithName("journal"),
		now:     time.Now,
	}
}

// SetEnabled allows toggling the journal at runtime.
func (j *Journal) SetEnabled(on bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enabled = on
	if !on {
		j.closeFile()
	}
}

// IsEnabled returns whether rows are being written.
func (j *Journal) IsEnabled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enabled
}

// Record writes one cycle outcome. Workers call it concurrently.
func (j *Journal) Record(o bench.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.enabled {
		return nil
	}
	if j.writer == nil || j.rows >= j.maxRows {
		if err := j.rotateFile(j.now()); err != nil {
			j.log.Error(err, "Rotate failed")
			return err
		}
	}

	if err := j.writer.Write(buildRow(o)); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}
	j.rows++
	return nil
}

// Close flushes and closes the current file.
func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closeFile()
}

func (j *Journal) rotateFile(now time.Time) error {
	j.closeFile()

	if err := os.MkdirAll(j.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", j.dir, err)
	}

	name := fmt.Sprintf("cycles_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(j.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	j.file = f
	j.writer = csv.NewWriter(f)
	j.rows = 0

	if err := j.writer.Write(csvHeader); err != nil {
		return err
	}
	j.writer.Flush()

	j.log.Info("Journal opened", "path", path)
	return nil
}

func (j *Journal) closeFile() {
	if j.writer != nil {
		j.writer.Flush()
		j.writer = nil
	}
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
}

func buildRow(o bench.Outcome) []string {
	row := make([]string, len(csvHeader))
	row[0] = o.Time.Format(time.RFC3339Nano)
	row[1] = o.Port
	row[2] = o.Serial
	row[3] = strconv.Itoa(o.Iteration)
	row[4] = strconv.Itoa(o.Cycle)
	row[5] = boolStr(o.BPStart)
	row[6] = boolStr(o.BPEnd)
	row[7] = boolStr(o.Success)
	row[8] = strconv.FormatUint(o.TempCount, 10)
	row[9] = strconv.FormatUint(o.Counters.Reboots, 10)
	row[10] = strconv.FormatUint(o.Counters.BPs, 10)
	row[11] = strconv.FormatUint(o.Counters.Temps, 10)
	if o.Err != nil {
		row[12] = o.Err.Error()
	}
	return row
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
