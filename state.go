package hookscan

// HookState tracks a hook through its lifecycle:
//
//	Uninstalled → Installed → Enabled ⇄ Disabled → Removed
//
// Failed is reachable from any transition attempt. Removed and Failed are
// terminal; a fresh install is needed afterwards.
type HookState int

const (
	StateUninstalled HookState = iota
	StateInstalled
	StateEnabled
	StateDisabled
	StateRemoved
	StateFailed
)

func (s HookState) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalled:
		return "installed"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	case StateRemoved:
		return "removed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s HookState) Terminal() bool {
	return s == StateRemoved || s == StateFailed
}

// active reports whether the redirect is currently written at the target.
func (s HookState) active() bool {
	return s == StateInstalled || s == StateEnabled
}
