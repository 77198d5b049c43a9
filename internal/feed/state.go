package feed

// ConnState is the connection lifecycle state of the streaming price
// client. The client owns its state exclusively; every change goes through
// the guarded transition table so an illegal transition can never occur
// silently.
type ConnState int

const (
	// StateDisconnected is the initial state and the result of a clean,
	// locally initiated shutdown.
	StateDisconnected ConnState = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the stream is live and frames are flowing.
	StateConnected
	// StateReconnectScheduled means the connection dropped abnormally and
	// a reconnect timer is armed.
	StateReconnectScheduled
	// StateFailed is terminal: the reconnect budget is exhausted and no
	// further attempts are made until Start is called again.
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var validTransitions = map[ConnState][]ConnState{
	StateDisconnected:       {StateConnecting},
	StateConnecting:         {StateConnected, StateReconnectScheduled, StateFailed, StateDisconnected},
	StateConnected:          {StateReconnectScheduled, StateDisconnected},
	StateReconnectScheduled: {StateConnecting, StateFailed, StateDisconnected},
	StateFailed:             {StateConnecting, StateDisconnected},
}

func canTransition(from, to ConnState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
