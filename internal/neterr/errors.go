package neterr

import (
	"errors"
	"fmt"
)

// error categories, test with errors.Is
var (
	ErrConfiguration = errors.New("configuration error") // invalid host/port or settings
	ErrSocket        = errors.New("socket error")        // bind/listen/accept/read/write failures
	ErrProtocol      = errors.New("protocol error")      // malformed frame or payload
	ErrLifecycle     = errors.New("lifecycle error")     // start twice, stop when not started, use before start
	ErrDispatch      = errors.New("dispatch error")      // a handler failed while dispatching
)

// Sink receives errors that cannot be returned to a caller,
// e.g. a read failure inside a connection's receive loop
type Sink func(error)

// Report passes err to the sink if both are non-nil
func (s Sink) Report(err error) {
	if s == nil || err == nil {
		return
	}
	s(err)
}

func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Socket wraps a transport error with the operation that failed
func Socket(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrSocket, op)
	}
	return fmt.Errorf("%w: %s: %w", ErrSocket, op, err)
}

func Protocol(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

func Lifecycle(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLifecycle, fmt.Sprintf(format, args...))
}

func Dispatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDispatch, fmt.Sprintf(format, args...))
}

// Fanout returns a sink that reports to every non-nil sink in order
func Fanout(sinks ...Sink) Sink {
	return func(err error) {
		for _, s := range sinks {
			s.Report(err)
		}
	}
}

// Category names the taxonomy bucket err belongs to, "unknown" if none
func Category(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrSocket):
		return "socket"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrLifecycle):
		return "lifecycle"
	case errors.Is(err, ErrDispatch):
		return "dispatch"
	default:
		return "unknown"
	}
}
