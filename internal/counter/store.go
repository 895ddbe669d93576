package counter

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// Labels written to the counter file, one per line as "<Label>: <value>".
const (
	RebootsLabel = "Reboots"
	BPsLabel     = "Successful BP tests"
	TempsLabel   = "Successful temp tests"
)

// Counters are the persisted pass counts of one unit.
type Counters struct {
	Reboots uint64 `json:"reboots"`
	BPs     uint64 `json:"bps"`
	Temps   uint64 `json:"temps"`
}

// Store keeps one counter file per unit serial under a directory.
type Store struct {
	dir string
	log logr.Logger
}

// NewStore returns a store rooted at dir. The directory is created lazily.
func NewStore(dir string, log logr.Logger) *Store {
	return &Store{dir: dir, log: log.WithName("counter")}
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// ValidSerial reports whether serial can name a counter file: it must be
// non-empty, not a dot name, and free of path separators.
func ValidSerial(serial string) bool {
	return serial != "" && serial != "." && serial != ".." && !strings.ContainsAny(serial, `/\`)
}

// Path returns the counter file for serial.
func (s *Store) Path(serial string) string {
	return filepath.Join(s.dir, serial+".txt")
}

// Load reads the counters of serial. A missing file is created holding
// zeroes. Unknown labels and unparsable values are logged and skipped.
func (s *Store) Load(serial string) (Counters, error) {
	var c Counters
	path := s.Path(serial)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		s.log.Info("No counter file, starting from zero", "path", path)
		return c, s.Save(serial, c)
	}
	if err != nil {
		s.log.Error(err, "Cannot open counter file", "path", path)
		return c, fmt.Errorf("counter: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		label, raw, ok := strings.Cut(line, ":")
		if !ok {
			s.log.Error(nil, "Malformed counter line", "path", path, "line", lineNo, "text", line)
			continue
		}
		value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			s.log.Error(err, "Unparsable counter value", "path", path, "line", lineNo, "text", line)
			continue
		}
		switch strings.ToLower(strings.TrimSpace(label)) {
		case strings.ToLower(RebootsLabel):
			c.Reboots = value
		case strings.ToLower(BPsLabel):
			c.BPs = value
		case strings.ToLower(TempsLabel):
			c.Temps = value
		default:
			s.log.Error(nil, "Unknown counter label", "path", path, "line", lineNo, "label", label)
		}
	}
	if err := scanner.Err(); err != nil {
		s.log.Error(err, "Reading counter file stopped early", "path", path)
	}
	s.log.V(1).Info("Loaded counters", "serial", serial, "reboots", c.Reboots, "bps", c.BPs, "temps", c.Temps)
	return c, nil
}

// Save rewrites the counter file of serial in a single open-truncate-write.
// Failures are logged and returned; callers are free to carry on.
func (s *Store) Save(serial string, c Counters) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.log.Error(err, "Cannot create output directory", "dir", s.dir)
		return fmt.Errorf("counter: mkdir %s: %w", s.dir, err)
	}
	path := s.Path(serial)
	data := Format(c)
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		s.log.Error(err, "Cannot write counter file", "path", path)
		return fmt.Errorf("counter: write %s: %w", path, err)
	}
	s.log.V(1).Info("Saved counters", "serial", serial, "reboots", c.Reboots, "bps", c.BPs, "temps", c.Temps)
	return nil
}

// Format renders c in the counter file layout.
func Format(c Counters) string {
	return fmt.Sprintf("%s: %d\n%s: %d\n%s: %d\n",
		RebootsLabel, c.Reboots,
		BPsLabel, c.BPs,
		TempsLabel, c.Temps)
}
