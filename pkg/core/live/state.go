package live

// State is the connection state of a Manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

var transitions = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateOpen, StateError, StateClosing},
	StateOpen:         {StateClosing, StateError},
	StateClosing:      {StateDisconnected},
	StateError:        {StateDisconnected},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
