package console

// Command is an outbound control code understood by the unit's serial console.
type Command int

const (
	Quit Command = iota
	StartBP
	CheckBPState
	LifecycleMenu
	BrightnessMenu
	BrightnessLow
	BrightnessHigh
	ReadTemp
	UpMenuLevel
	RedrawMenu
	Login
	DebugShell
	Newline
	Reboot
	RequestSerial
	ContinueBoot
)

// commandLiterals maps every Command to the exact bytes written to the port.
var commandLiterals = [...]string{
	Quit:           "q\n",
	StartBP:        "N",
	CheckBPState:   "n",
	LifecycleMenu:  "L",
	BrightnessMenu: "B",
	BrightnessLow:  "1",
	BrightnessHigh: "0",
	ReadTemp:       "H",
	UpMenuLevel:    "\\",
	RedrawMenu:     "?",
	Login:          "root\n",
	DebugShell:     "python3 -m debugmenu\n",
	Newline:        "\n",
	Reboot:         "shutdown -r now\n",
	RequestSerial:  "echo 'S' | python3 -m debugmenu\n",
	ContinueBoot:   "boot\n",
}

var commandNames = [...]string{
	Quit:           "quit",
	StartBP:        "start-bp",
	CheckBPState:   "check-bp",
	LifecycleMenu:  "lifecycle-menu",
	BrightnessMenu: "brightness-menu",
	BrightnessLow:  "brightness-low",
	BrightnessHigh: "brightness-high",
	ReadTemp:       "read-temp",
	UpMenuLevel:    "up",
	RedrawMenu:     "redraw",
	Login:          "login",
	DebugShell:     "debug-shell",
	Newline:        "newline",
	Reboot:         "reboot",
	RequestSerial:  "request-serial",
	ContinueBoot:   "continue-boot",
}

// Bytes returns the literal sent for c. Unknown commands return nil.
func (c Command) Bytes() []byte {
	if c < 0 || int(c) >= len(commandLiterals) {
		return nil
	}
	return []byte(commandLiterals[c])
}

func (c Command) String() string {
	if c < 0 || int(c) >= len(commandNames) {
		return "unknown"
	}
	return commandNames[c]
}
