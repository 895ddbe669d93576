package console

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_EachPattern(t *testing.T) {
	c := NewClassifier(logr.Discard(), nil)
	for _, p := range DefaultPatterns() {
		got := c.Classify([]byte(p.Substring))
		assert.Equal(t, p.Kind, got.Kind, "pattern %q", p.Substring)
	}
}

func TestClassify_EmptyAndNewline(t *testing.T) {
	c := NewClassifier(logr.Discard(), nil)
	assert.Equal(t, Empty, c.Classify(nil).Kind)
	assert.Equal(t, Empty, c.Classify([]byte{}).Kind)
	assert.Equal(t, EmptyNewline, c.Classify([]byte("\r\n")).Kind)
	assert.Equal(t, Other, c.Classify([]byte("\n\n")).Kind)
	assert.Equal(t, Other, c.Classify([]byte("nothing to see")).Kind)
}

func TestClassify_PriorityBeatsOffset(t *testing.T) {
	c := NewClassifier(logr.Discard(), nil)

	// "root@" appears first in the buffer but the login prompt ranks higher.
	got := c.Classify([]byte("root@seymour:~# exit\r\nseymour login: "))
	assert.Equal(t, LoginPrompt, got.Kind)

	// "Last login:" contains "login:" and must win over it.
	got = c.Classify([]byte("Last login: Tue Oct 14 09:12:01 on ttyS0\r\nroot@seymour:~# "))
	assert.Equal(t, PreShellPrompt, got.Kind)

	got = c.Classify([]byte("Debug Menu > Lifecycle Menu\r\n  N) Start BP\r\n"))
	assert.Equal(t, LifecycleMenuReady, got.Kind)
}

func TestClassify_TempCount(t *testing.T) {
	c := NewClassifier(logr.Discard(), nil)

	got := c.Classify([]byte("SureTemp Probe Pulls: 42"))
	require.Equal(t, TempCount, got.Kind)
	assert.True(t, got.Valid)
	assert.Equal(t, uint64(42), got.Count)

	got = c.Classify([]byte("Lifecycle Menu\r\nSureTemp Probe Pulls: 7\r\n> "))
	require.Equal(t, TempCount, got.Kind)
	assert.True(t, got.Valid)
	assert.Equal(t, uint64(7), got.Count)

	got = c.Classify([]byte("SureTemp Probe Pulls: abc"))
	require.Equal(t, TempCount, got.Kind)
	assert.False(t, got.Valid)
	assert.Equal(t, "temp-count(none)", got.String())
}

func TestClassify_SerialCarriesBuffer(t *testing.T) {
	c := NewClassifier(logr.Discard(), nil)
	raw := "Board info\r\nSerial Number: SL2210-0042\r\nRevision: C\r\n"

	got := c.Classify([]byte(raw))
	require.Equal(t, Serial, got.Kind)
	assert.Equal(t, raw, got.Text)

	serial, ok := ExtractSerial(got.Text)
	require.True(t, ok)
	assert.Equal(t, "SL2210-0042", serial)
}

func TestExtractSerial_Missing(t *testing.T) {
	_, ok := ExtractSerial("Serial Number\r\nno colon here\r\n")
	assert.False(t, ok)

	_, ok = ExtractSerial("Serial Number:   \r\n")
	assert.False(t, ok)
}

func TestNewClassifier_CopiesTable(t *testing.T) {
	patterns := []Pattern{{"foo", ShellPrompt}}
	c := NewClassifier(logr.Discard(), patterns)
	patterns[0].Kind = LoginPrompt
	assert.Equal(t, ShellPrompt, c.Classify([]byte("foo")).Kind)
}

func TestCommandLiterals(t *testing.T) {
	assert.Equal(t, []byte("q\n"), Quit.Bytes())
	assert.Equal(t, []byte("N"), StartBP.Bytes())
	assert.Equal(t, []byte("\\"), UpMenuLevel.Bytes())
	assert.Equal(t, []byte("root\n"), Login.Bytes())
	for c := Quit; c <= ContinueBoot; c++ {
		assert.NotEmpty(t, c.Bytes(), "command %s", c)
		assert.NotEqual(t, "unknown", c.String())
	}
	assert.Nil(t, Command(99).Bytes())
}
