package console

import (
	"strconv"
	"strings"

	"github.com/go-logr/logr"
)

// SerialKey is the label the debug menu prints in front of the unit serial.
const SerialKey = "Serial Number"

// Pattern pairs a substring with the Response kind it selects.
type Pattern struct {
	Substring string
	Kind      Kind
}

// DefaultPatterns returns the console pattern table in priority order.
// A pattern that is a substring of another must come after it
// ("Last login:" before "login:").
func DefaultPatterns() []Pattern {
	return []Pattern{
		{"Password:", PasswordPrompt},
		{"Last login:", PreShellPrompt},
		{"login:", LoginPrompt},
		{"command not found", FailedDebugMenu},
		{"Traceback (most recent call last)", DebugCrash},
		{"Error number -3", DebugCrash},
		{"SureTemp Probe Pulls:", TempCount},
		{SerialKey, Serial},
		{"MANUAL_BP", BPRunning},
		{"IDLE", BPIdle},
		{"The system is going down", ShuttingDown},
		{"reboot: Restarting system", Rebooting},
		{"Rebooting", Rebooting},
		{"Hit any key to stop autoboot", UBootPrompt},
		{"Initialising debug menu", DebugInit},
		{"Lifecycle Menu", LifecycleMenuReady},
		{"Brightness Menu", BrightnessMenuReady},
		{"Debug Menu", DebugMenuReady},
		{"root@", ShellPrompt},
	}
}

// Classifier turns raw console output into a Response. It holds no state
// besides its pattern table and is safe for concurrent use.
type Classifier struct {
	patterns []Pattern
	log      logr.Logger
}

// NewClassifier builds a classifier over patterns; nil selects DefaultPatterns.
func NewClassifier(log logr.Logger, patterns []Pattern) *Classifier {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	table := make([]Pattern, len(patterns))
	copy(table, patterns)
	return &Classifier{patterns: table, log: log.WithName("classifier")}
}

// Classify maps everything read since the previous read to a Response.
func (c *Classifier) Classify(buf []byte) Response {
	if len(buf) == 0 {
		return Response{Kind: Empty}
	}
	text := strings.ToValidUTF8(string(buf), "�")
	if text == "\r\n" {
		return Response{Kind: EmptyNewline}
	}

	for _, p := range c.patterns {
		if !strings.Contains(text, p.Substring) {
			continue
		}
		switch p.Kind {
		case TempCount:
			return c.tempCount(text, p.Substring)
		case Serial:
			return Response{Kind: Serial, Text: text}
		default:
			return Response{Kind: p.Kind}
		}
	}
	return Response{Kind: Other}
}

func (c *Classifier) tempCount(text, marker string) Response {
	line := lineContaining(text, marker)
	token := line
	if idx := strings.LastIndex(line, " "); idx >= 0 {
		token = line[idx+1:]
	}
	n, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		c.log.Error(err, "Unparsable probe pull count", "line", line)
		return Response{Kind: TempCount}
	}
	return Response{Kind: TempCount, Count: n, Valid: true}
}

// lineContaining returns the trimmed line of text holding marker.
func lineContaining(text, marker string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(line, marker) {
			return strings.TrimSpace(line)
		}
	}
	return ""
}

// ExtractSerial pulls the unit serial out of a Serial payload. Only lines
// holding a colon are considered; the key is compared after trimming.
func ExtractSerial(text string) (string, bool) {
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(key) != SerialKey {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return "", false
		}
		return value, true
	}
	return "", false
}
