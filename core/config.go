package core

import "math"

const (
	// DefaultSpeedSound is the historical calibration: half the speed of
	// sound in cm/µs (0.0343 / 2), applied to the 2.8 µs effective tick.
	DefaultSpeedSound float32 = 0.01715

	// TickScale is the effective duration of one polling tick in µs,
	// including loop overhead on the original board.
	TickScale = 2.8

	// NoLimit disables a polling limit and restores the unbounded wait
	NoLimit uint32 = 0

	// HC-SR04 pulls echo low after ~38 ms with no target; 20000 ticks of
	// 2 µs covers that.
	DefaultPulseTickLimit uint32 = 20000
	DefaultEchoRiseLimit  uint32 = 60000
)

// Config holds the calibration and polling limits of a Ranger
type Config struct {
	SpeedSound float32 `json:"speed_sound"`

	// EchoRiseLimit bounds the number of polls while waiting for the echo
	// line to rise after the trigger pulse
	EchoRiseLimit uint32 `json:"echo_rise_limit"`

	// PulseTickLimit bounds the number of ticks counted while echo is high
	PulseTickLimit uint32 `json:"pulse_tick_limit"`

	// CrossPollLimit bounds the number of distance samples CrossSpeed takes
	CrossPollLimit uint32 `json:"cross_poll_limit"`

	// MaskInterrupts disables interrupts while the echo pulse is timed
	MaskInterrupts bool `json:"mask_interrupts"`
}

// DefaultConfig returns the historical calibration with bounded echo waits.
// The crossing loop waits for an external event and stays unbounded.
func DefaultConfig() Config {
	return Config{
		SpeedSound:     DefaultSpeedSound,
		EchoRiseLimit:  DefaultEchoRiseLimit,
		PulseTickLimit: DefaultPulseTickLimit,
		CrossPollLimit: NoLimit,
	}
}

// CompatConfig returns the historical calibration with every wait unbounded
func CompatConfig() Config {
	return Config{SpeedSound: DefaultSpeedSound}
}

// Validate checks that the calibration can produce a distance
func (c Config) Validate() error {
	s := float64(c.SpeedSound)
	if math.IsNaN(s) || math.IsInf(s, 0) || s <= 0 {
		return ErrBadConfig
	}
	return nil
}
