package lifecycle

import "eventnet/internal/neterr"

// State is the binary lifecycle shared by the TCP manager, the UDP listener and the facade.
// Transitions are NotStarted -> Started -> Stopped, nothing else.
type State int32

const (
	NotStarted State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// CanStart returns a lifecycle error unless the state is NotStarted
func (s State) CanStart(component string) error {
	if s != NotStarted {
		return neterr.Lifecycle("%s cannot start: state is %s", component, s)
	}
	return nil
}

// CanStop returns a lifecycle error unless the state is Started
func (s State) CanStop(component string) error {
	if s != Started {
		return neterr.Lifecycle("%s cannot stop: state is %s", component, s)
	}
	return nil
}

// Require guards operations that only make sense while Started
func (s State) Require(component, op string) error {
	if s != Started {
		return neterr.Lifecycle("%s: %s requires a started component, state is %s", component, op, s)
	}
	return nil
}
