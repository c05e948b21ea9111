package gateway

// State is the gateway lifecycle. Transitions are driven by injected
// lifecycle events (Install, Activate), control messages and request
// arrival, never by ambient timers.
type State int

const (
	StateUninstalled State = iota
	StateInstalling
	StateWaiting
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninstalled:
		return "uninstalled"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}
