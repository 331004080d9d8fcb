// Package sim simulates an HC-SR04 wired to two GPIO lines and an STM32
// basic timer, for host tests and the -sim mode of ranger-host.
//
// The echo is scripted in polling ticks: after a valid trigger pulse the
// echo line reads low for RiseDelay reads, rises, stays high for the
// scripted number of further reads, then reads low again. Time only advances through the timer
// and the sleeper.
package sim

import (
	"math"
	"sync"

	"ranger/core"
)

// Special script entries
const (
	// EchoNever keeps the echo line low after the trigger
	EchoNever = math.MaxUint32
	// EchoStuck keeps the echo line high once it rises
	EchoStuck = math.MaxUint32 - 1
)

// DefaultRiseDelay is the number of low reads before the echo rises
const DefaultRiseDelay = 3

type echoPhase int

const (
	echoIdle echoPhase = iota
	echoArmed
	echoHigh
)

// Board is a simulated sensor plus delay timer. It implements
// core.GPIODriver, core.TimerBlock and core.Sleeper.
type Board struct {
	mu sync.Mutex

	handle core.Handle
	modes  map[core.Pin]string
	levels map[core.Pin]core.Level

	// Echo script in ticks; the last entry repeats unless cycle is set
	script []uint32
	next   int
	cycle  bool

	RiseDelay uint32

	phase     echoPhase
	riseLeft  uint32 // low reads left before the echo rises
	remaining uint32 // high reads left
	trigHigh  uint32 // clock when trigger went high
	pulses    int
	short     int // trigger pulses under 10 µs

	// Timer registers
	clock   uint32
	arr     uint32
	uif     bool
	enabled bool

	slept []uint32
}

var (
	_ core.GPIODriver = (*Board)(nil)
	_ core.TimerBlock = (*Board)(nil)
	_ core.Sleeper    = (*Board)(nil)
)

// New creates a board for the sensor on h with an empty script
func New(h core.Handle) *Board {
	return &Board{
		handle:    h,
		modes:     make(map[core.Pin]string),
		levels:    make(map[core.Pin]core.Level),
		RiseDelay: DefaultRiseDelay,
	}
}

// ScriptTicks replaces the echo script with raw tick counts
func (b *Board) ScriptTicks(ticks ...uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script = append(b.script[:0], ticks...)
	b.next = 0
}

// ScriptDistances replaces the echo script with distances in centimetres,
// converted with speedSound. Each distance is rounded to the nearest tick.
func (b *Board) ScriptDistances(speedSound float32, cm ...float32) {
	ticks := make([]uint32, len(cm))
	for i, d := range cm {
		ticks[i] = TicksFor(d, speedSound)
	}
	b.ScriptTicks(ticks...)
}

// SetCycle makes the script restart from the top once exhausted
func (b *Board) SetCycle(cycle bool) {
	b.mu.Lock()
	b.cycle = cycle
	b.mu.Unlock()
}

// TicksFor returns the tick count that measures cm at speedSound
func TicksFor(cm, speedSound float32) uint32 {
	return uint32(math.Round(float64(cm) / (core.TickScale * float64(speedSound))))
}

// Pulses returns the number of trigger pulses seen, and how many of them
// were too short to fire the sensor
func (b *Board) Pulses() (total, short int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pulses, b.short
}

// Mode returns "output", "input" or "" for an unconfigured pin
func (b *Board) Mode(pin core.Pin) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.modes[pin]
}

// Level returns the last level driven on pin
func (b *Board) Level(pin core.Pin) core.Level {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.levels[pin]
}

// Clock returns the simulated microseconds elapsed
func (b *Board) Clock() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clock
}

// Slept returns every SleepMillis argument in call order
func (b *Board) Slept() []uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]uint32(nil), b.slept...)
}

func (b *Board) ConfigureOutput(pin core.Pin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes[pin] = "output"
	return nil
}

func (b *Board) ConfigureInput(pin core.Pin) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes[pin] = "input"
	return nil
}

func (b *Board) SetPin(pin core.Pin, level core.Level) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.levels[pin]
	b.levels[pin] = level
	if pin != b.handle.Trigger || prev == level {
		return nil
	}

	if level == core.High {
		b.trigHigh = b.clock
		return nil
	}

	// Falling edge ends the pulse
	b.pulses++
	if b.clock-b.trigHigh < core.TriggerPulseMicros {
		b.short++
		return nil
	}
	b.fireLocked()
	return nil
}

// Pulse implements core.Trigger as a hardware pulser would
func (b *Board) Pulse(widthUS uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clock += widthUS
	b.pulses++
	if widthUS < core.TriggerPulseMicros {
		b.short++
		return nil
	}
	b.fireLocked()
	return nil
}

func (b *Board) fireLocked() {
	if len(b.script) == 0 {
		b.remaining = EchoNever
	} else {
		b.remaining = b.script[b.next]
		if b.next < len(b.script)-1 {
			b.next++
		} else if b.cycle {
			b.next = 0
		}
	}
	b.phase = echoArmed
	b.riseLeft = b.RiseDelay
}

func (b *Board) ReadPin(pin core.Pin) core.Level {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pin != b.handle.Echo {
		return b.levels[pin]
	}

	switch b.phase {
	case echoArmed:
		if b.remaining == EchoNever {
			return core.Low
		}
		if b.riseLeft > 0 {
			b.riseLeft--
			return core.Low
		}
		// The read that sees the rise is not a tick
		b.phase = echoHigh
		return core.High
	case echoHigh:
		if b.remaining == EchoStuck {
			return core.High
		}
		if b.remaining > 0 {
			b.remaining--
			return core.High
		}
		b.phase = echoIdle
	}
	return core.Low
}

func (b *Board) SetAutoReload(value uint32) {
	b.mu.Lock()
	b.arr = value
	b.mu.Unlock()
}

// GenerateUpdate latches ARR and sets the update flag, as UG does
func (b *Board) GenerateUpdate() {
	b.mu.Lock()
	b.uif = true
	b.mu.Unlock()
}

// UpdatePending lets a running counter expire on the first poll
func (b *Board) UpdatePending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enabled && !b.uif {
		b.clock += b.arr + 1
		b.uif = true
	}
	return b.uif
}

func (b *Board) ClearUpdate() {
	b.mu.Lock()
	b.uif = false
	b.mu.Unlock()
}

func (b *Board) Enable() {
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
}

func (b *Board) SleepMillis(ms uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slept = append(b.slept, ms)
	b.clock += ms * 1000
}
