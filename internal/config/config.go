package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the bench looks for its config file.
const DefaultPath = "/etc/seymour/config.yaml"

// Config holds all bench configuration.
type Config struct {
	mu sync.RWMutex

	Serial  SerialConfig  `yaml:"serial" json:"serial"`
	Output  OutputConfig  `yaml:"output" json:"output"`
	Logs    LogsConfig    `yaml:"logs" json:"logs"`
	Relay   RelayConfig   `yaml:"relay" json:"relay"`
	Bench   BenchConfig   `yaml:"bench" json:"bench"`
	Monitor MonitorConfig `yaml:"monitor" json:"monitor"`
	MQTT    MQTTConfig    `yaml:"mqtt" json:"mqtt"`

	path string // file path for save/load
}

type SerialConfig struct {
	BaudRate       int      `yaml:"baud_rate" json:"baudRate"`
	ReadTimeoutMs  int      `yaml:"read_timeout_ms" json:"readTimeoutMs"`
	SettleMs       int      `yaml:"settle_ms" json:"settleMs"`
	ReconnectAfter int      `yaml:"reconnect_after" json:"reconnectAfter"` // empty reads before reopening
	Ports          []string `yaml:"ports" json:"ports"`                    // globs, e.g. /dev/ttyUSB*
}

type OutputConfig struct {
	Dir            string `yaml:"dir" json:"dir"` // counter files, .errors files, journal
	Journal        bool   `yaml:"journal" json:"journal"`
	JournalMaxRows int    `yaml:"journal_max_rows" json:"journalMaxRows"`
}

type LogsConfig struct {
	Dir     string `yaml:"dir" json:"dir"`
	Verbose bool   `yaml:"verbose" json:"verbose"`
}

type RelayConfig struct {
	Chip          string `yaml:"chip" json:"chip"` // gpiochip name or path
	Addresses     []int  `yaml:"addresses" json:"addresses"`
	ProbeSettleMs int    `yaml:"probe_settle_ms" json:"probeSettleMs"`
	PulseMs       int    `yaml:"pulse_ms" json:"pulseMs"`
}

type BenchConfig struct {
	BPCycles        int  `yaml:"bp_cycles" json:"bpCycles"`
	Iterations      int  `yaml:"iterations" json:"iterations"` // 0 asks the operator
	PollIntervalMs  int  `yaml:"poll_interval_ms" json:"pollIntervalMs"`
	MaxPolls        int  `yaml:"max_polls" json:"maxPolls"`
	ExplicitReboot  bool `yaml:"explicit_reboot" json:"explicitReboot"`
	MaxEdgeAttempts int  `yaml:"max_edge_attempts" json:"maxEdgeAttempts"`
	MaxBootReads    int  `yaml:"max_boot_reads" json:"maxBootReads"`
}

type MonitorConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Broker   string `yaml:"broker" json:"broker"` // tcp://host:1883
	ClientID string `yaml:"client_id" json:"clientId"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// ReadTimeout, Settle and the other accessors convert millisecond fields.
func (s SerialConfig) ReadTimeout() time.Duration { return ms(s.ReadTimeoutMs) }
func (s SerialConfig) Settle() time.Duration      { return ms(s.SettleMs) }
func (r RelayConfig) ProbeSettle() time.Duration  { return ms(r.ProbeSettleMs) }
func (r RelayConfig) Pulse() time.Duration        { return ms(r.PulseMs) }
func (b BenchConfig) PollInterval() time.Duration { return ms(b.PollIntervalMs) }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:       115200,
			ReadTimeoutMs:  500,
			SettleMs:       500,
			ReconnectAfter: 15,
			Ports:          []string{"/dev/ttyUSB*", "/dev/ttyACM*"},
		},
		Output: OutputConfig{
			Dir:            "output",
			Journal:        true,
			JournalMaxRows: 100_000,
		},
		Logs: LogsConfig{
			Dir: "logs",
		},
		Relay: RelayConfig{
			Chip:          "gpiochip0",
			Addresses:     []int{4, 5, 6, 12, 13, 17, 18, 19, 20, 26},
			ProbeSettleMs: 5000,
			PulseMs:       5000,
		},
		Bench: BenchConfig{
			BPCycles:        3,
			Iterations:      0,
			PollIntervalMs:  1000,
			MaxPolls:        900,
			ExplicitReboot:  true,
			MaxEdgeAttempts: 5,
			MaxBootReads:    360,
		},
		Monitor: MonitorConfig{
			Enabled:    true,
			ListenAddr: ":8080",
		},
		MQTT: MQTTConfig{
			Enabled:  false,
			Broker:   "tcp://localhost:1883",
			ClientID: "seymour",
			Prefix:   "seymour",
		},
	}
}

// Load reads config from a YAML file, then applies .env and environment
// variable overrides. Falls back to defaults if the YAML is missing or bad.
func Load(path string, log logr.Logger) *Config {
	log = log.WithName("config")
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Info("No config file, using defaults", "path", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Error(err, "Bad config file, using defaults", "path", path)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Info("Config loaded", "path", path)
	}

	// .env next to the config first, then the working directory. Variables
	// already in the environment win.
	for _, ep := range []string{filepath.Join(filepath.Dir(path), ".env"), ".env"} {
		if err := godotenv.Load(ep); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Error(err, "Bad .env file", "path", ep)
			}
			continue
		}
		log.Info("Loaded .env", "path", ep)
	}

	cfg.applyEnvOverrides(log)
	return cfg
}

// applyEnvOverrides reads SEYMOUR_* variables and overrides config values.
func (c *Config) applyEnvOverrides(log logr.Logger) {
	atoi := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Error(err, "Ignoring bad environment value", "key", key, "value", v)
			return
		}
		*dst = n
	}

	if v := os.Getenv("SEYMOUR_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("SEYMOUR_LOG_DIR"); v != "" {
		c.Logs.Dir = v
	}
	atoi("SEYMOUR_BAUD", &c.Serial.BaudRate)
	if v := os.Getenv("SEYMOUR_PORTS"); v != "" {
		c.Serial.Ports = splitList(v)
	}
	if v := os.Getenv("SEYMOUR_RELAY_CHIP"); v != "" {
		c.Relay.Chip = v
	}
	if v := os.Getenv("SEYMOUR_RELAY_ADDRESSES"); v != "" {
		addrs, err := parseInts(v)
		if err != nil {
			log.Error(err, "Ignoring bad relay addresses", "value", v)
		} else {
			c.Relay.Addresses = addrs
		}
	}
	atoi("SEYMOUR_BP_CYCLES", &c.Bench.BPCycles)
	atoi("SEYMOUR_ITERATIONS", &c.Bench.Iterations)
	if v := os.Getenv("SEYMOUR_LISTEN"); v != "" {
		c.Monitor.ListenAddr = v
	}
	if v := os.Getenv("SEYMOUR_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
		c.MQTT.Enabled = true
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseInts(v string) ([]int, error) {
	var out []int
	for _, s := range splitList(v) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	path := c.path
	if path == "" {
		path = DefaultPath
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON deep-merges a partial JSON document into the config.
// Fields missing from data keep their values. Changes apply to the next
// run once saved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}
	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. Nested maps are merged; any
// other value in src replaces the one in dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
