package console

import "fmt"

// Kind classifies everything the console can send back.
type Kind int

const (
	Other Kind = iota
	Empty
	EmptyNewline
	PasswordPrompt
	LoginPrompt
	ShellPrompt
	PreShellPrompt
	DebugMenuReady
	FailedDebugMenu
	DebugInit
	DebugCrash
	LifecycleMenuReady
	BrightnessMenuReady
	BPRunning
	BPIdle
	Rebooting
	ShuttingDown
	UBootPrompt
	TempCount
	Serial
)

var kindNames = [...]string{
	Other:               "other",
	Empty:               "empty",
	EmptyNewline:        "empty-newline",
	PasswordPrompt:      "password-prompt",
	LoginPrompt:         "login-prompt",
	ShellPrompt:         "shell-prompt",
	PreShellPrompt:      "pre-shell-prompt",
	DebugMenuReady:      "debug-menu",
	FailedDebugMenu:     "failed-debug-menu",
	DebugInit:           "debug-init",
	DebugCrash:          "debug-crash",
	LifecycleMenuReady:  "lifecycle-menu",
	BrightnessMenuReady: "brightness-menu",
	BPRunning:           "bp-running",
	BPIdle:              "bp-idle",
	Rebooting:           "rebooting",
	ShuttingDown:        "shutting-down",
	UBootPrompt:         "u-boot",
	TempCount:           "temp-count",
	Serial:              "serial",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Response is one classified read. Count is meaningful for TempCount when
// Valid is set; Text carries the whole decoded buffer for Serial.
type Response struct {
	Kind  Kind
	Count uint64
	Valid bool
	Text  string
}

// Is reports whether r has kind k.
func (r Response) Is(k Kind) bool { return r.Kind == k }

func (r Response) String() string {
	switch r.Kind {
	case TempCount:
		if !r.Valid {
			return "temp-count(none)"
		}
		return fmt.Sprintf("temp-count(%d)", r.Count)
	case Serial:
		return fmt.Sprintf("serial(%d bytes)", len(r.Text))
	}
	return r.Kind.String()
}
