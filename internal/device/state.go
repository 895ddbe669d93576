package device

import "github.com/shaunagostinho/seymour-life/internal/console"

// State is where the unit's console currently sits in its menu tree.
//
//	LoginPrompt -> ShellPrompt -> DebugMenu -> LifecycleMenu
//	                                       \-> BrightnessMenu
//
// Shutdown is entered while the unit reboots and always resolves to
// LoginPrompt once a login prompt is seen.
type State int

const (
	LoginPrompt State = iota
	ShellPrompt
	DebugMenu
	LifecycleMenu
	BrightnessMenu
	Shutdown
)

func (s State) String() string {
	switch s {
	case LoginPrompt:
		return "login-prompt"
	case ShellPrompt:
		return "shell-prompt"
	case DebugMenu:
		return "debug-menu"
	case LifecycleMenu:
		return "lifecycle-menu"
	case BrightnessMenu:
		return "brightness-menu"
	case Shutdown:
		return "shutdown"
	}
	return "unknown"
}

// inMenu reports whether s is one of the debug-menu screens.
func (s State) inMenu() bool {
	return s == DebugMenu || s == LifecycleMenu || s == BrightnessMenu
}

// Revealed returns the state a response proves the console is in.
// Responses that could come from several places return false.
func Revealed(r console.Response) (State, bool) {
	switch r.Kind {
	case console.LoginPrompt:
		return LoginPrompt, true
	case console.ShellPrompt, console.PreShellPrompt, console.FailedDebugMenu, console.DebugCrash:
		return ShellPrompt, true
	case console.DebugMenuReady, console.DebugInit:
		return DebugMenu, true
	case console.LifecycleMenuReady:
		return LifecycleMenu, true
	case console.BrightnessMenuReady:
		return BrightnessMenu, true
	case console.Rebooting, console.ShuttingDown, console.UBootPrompt:
		return Shutdown, true
	}
	return 0, false
}

// Initial picks the starting state from the reply seen at discovery.
// BP and probe replies are only printed by the lifecycle menu.
func Initial(r console.Response) (State, bool) {
	if s, ok := Revealed(r); ok {
		return s, true
	}
	switch r.Kind {
	case console.BPRunning, console.BPIdle, console.TempCount:
		return LifecycleMenu, true
	case console.PasswordPrompt:
		return LoginPrompt, true
	}
	return LoginPrompt, false
}
