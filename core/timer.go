package core

import "time"

const (
	// MinDelayMicros is the shortest wait the delay timer resolves reliably
	MinDelayMicros = 2

	// TickMicros is the nominal duration of one echo polling tick
	TickMicros = 2
)

// MicroDelay is the busy-wait microsecond delay service. The timer is
// reconfigured and restarted on every call; nothing but register content
// survives between calls.
type MicroDelay struct {
	tim TimerBlock
}

// NewMicroDelay creates a delay service on top of a timer block
func NewMicroDelay(tim TimerBlock) *MicroDelay {
	return &MicroDelay{tim: tim}
}

// Wait blocks for approximately us microseconds. Requests below
// MinDelayMicros are clamped. The wait cannot be interrupted.
func (d *MicroDelay) Wait(us uint32) {
	if us < MinDelayMicros {
		us = MinDelayMicros
	}

	d.tim.SetAutoReload(us - 1)
	d.tim.GenerateUpdate()
	d.tim.ClearUpdate()
	d.tim.Enable()
	for !d.tim.UpdatePending() {
	}
	d.tim.ClearUpdate()

	addSystemTicks(us)
}

// StartOneShotWait implements OneShotTimer
func (d *MicroDelay) StartOneShotWait(ticks uint32) {
	d.Wait(ticks)
}

// GetTime returns the microseconds spent in MicroDelay waits since boot.
// It is the only clock the driver keeps and is used to stamp timing events.
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the delay clock (for testing)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// sysSleeper uses the runtime scheduler for coarse delays
type sysSleeper struct{}

func (sysSleeper) SleepMillis(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// SystemSleeper returns the default coarse delay implementation
func SystemSleeper() Sleeper {
	return sysSleeper{}
}
