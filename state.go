package signaling

// Phase identifies which of the connection states currently holds.
type Phase int

const (
	// Disconnected means there is no socket. This is the initial phase.
	Disconnected Phase = iota

	// Connecting means a socket is being opened.
	Connecting

	// Connected means the socket is open and the message pump is running.
	Connected

	// Errored means the last session failed. Reason explains why.
	Errored
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionState is the state published to state subscribers. Reason is
// only set in the Errored phase.
type ConnectionState struct {
	Phase  Phase
	Reason *Error
}

// String returns a human readable form of the state.
func (s ConnectionState) String() string {
	if s.Phase == Errored && s.Reason != nil {
		return s.Phase.String() + "(" + s.Reason.Error() + ")"
	}
	return s.Phase.String()
}

// Is reports whether the state is in phase p.
func (s ConnectionState) Is(p Phase) bool {
	return s.Phase == p
}

// event is an input to the state machine.
type event int

const (
	evConnect event = iota
	evOpened
	evFailed
	evClosed
	evDisconnect
)

func (e event) String() string {
	switch e {
	case evConnect:
		return "connect"
	case evOpened:
		return "opened"
	case evFailed:
		return "failed"
	case evClosed:
		return "closed"
	case evDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// stateMachine guards the connection state. It is not safe for concurrent
// use; the Connection serializes access with its own mutex.
type stateMachine struct {
	current ConnectionState
}

// apply feeds ev into the machine. It returns the new state and whether a
// transition happened. Events that are not valid in the current phase
// leave the state untouched.
func (m *stateMachine) apply(ev event, reason *Error) (ConnectionState, bool) {
	next, ok := nextState(m.current.Phase, ev, reason)
	if !ok {
		return m.current, false
	}
	m.current = next
	return next, true
}

func nextState(from Phase, ev event, reason *Error) (ConnectionState, bool) {
	switch ev {
	case evConnect:
		if from == Disconnected || from == Errored {
			return ConnectionState{Phase: Connecting}, true
		}
	case evOpened:
		if from == Connecting {
			return ConnectionState{Phase: Connected}, true
		}
	case evFailed:
		if from == Connecting || from == Connected {
			return ConnectionState{Phase: Errored, Reason: reason}, true
		}
	case evClosed:
		if from == Connected {
			return ConnectionState{Phase: Disconnected}, true
		}
	case evDisconnect:
		// An explicit disconnect always lands in Disconnected, but staying
		// there is not a transition.
		if from != Disconnected {
			return ConnectionState{Phase: Disconnected}, true
		}
	}
	return ConnectionState{}, false
}
