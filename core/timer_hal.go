package core

// TimerBlock is the register-level view of a free-running countdown timer.
// Each method maps to one register field of an STM32 basic timer.
type TimerBlock interface {
	// SetAutoReload writes the auto-reload register (ARR)
	SetAutoReload(value uint32)

	// GenerateUpdate forces an update event so ARR takes effect (EGR.UG)
	GenerateUpdate()

	// UpdatePending reports whether the update flag is set (SR.UIF)
	UpdatePending() bool

	// ClearUpdate clears the update flag (SR.UIF)
	ClearUpdate()

	// Enable starts the counter (CR1.CEN)
	Enable()
}

// OneShotTimer blocks for a number of microsecond ticks.
type OneShotTimer interface {
	StartOneShotWait(ticks uint32)
}

// Sleeper is the coarse platform delay used between distance samples
type Sleeper interface {
	SleepMillis(ms uint32)
}

// Trigger emits the ranging trigger pulse in hardware instead of bit-banging
// the trigger pin. Width is in microseconds.
type Trigger interface {
	Pulse(widthUS uint32) error
}

var timerBlock TimerBlock

// SetTimerBlock is called by target-specific code to register the delay timer.
func SetTimerBlock(t TimerBlock) {
	timerBlock = t
}

// MustTimer returns the configured timer block or panics if missing.
func MustTimer() TimerBlock {
	if timerBlock == nil {
		panic("timer block not configured")
	}
	return timerBlock
}
