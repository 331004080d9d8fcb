package core

import "errors"

var (
	// ErrTimeout is returned when a polling limit expires before the
	// expected pin transition or threshold crossing
	ErrTimeout = errors.New("ranging timeout")

	// ErrNoTransit is returned by CrossSpeed when the object re-entered
	// the threshold before a single tick could be counted
	ErrNoTransit = errors.New("no timed transit")

	// ErrBadConfig is returned for calibration values that cannot produce a distance
	ErrBadConfig = errors.New("invalid ranger config")

	// ErrInvalidArgument is returned for a non-positive sampling interval
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotConfigured is returned by command handlers when no ranger is active
	ErrNotConfigured = errors.New("ranger not configured")
)

// Phases a polling limit can expire in
const (
	PhaseEchoRise uint32 = iota + 1
	PhaseEchoFall
	PhaseCrossing
)

// TimeoutError reports which wait expired and after how many polls.
// It unwraps to ErrTimeout.
type TimeoutError struct {
	Phase uint32
	Count uint32
}

func (e *TimeoutError) Error() string {
	var what string
	switch e.Phase {
	case PhaseEchoRise:
		what = "echo did not rise"
	case PhaseEchoFall:
		what = "echo did not fall"
	case PhaseCrossing:
		what = "object did not cross threshold"
	default:
		what = "unknown phase"
	}
	return ErrTimeout.Error() + ": " + what + " after " + utoa(e.Count) + " polls"
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }
