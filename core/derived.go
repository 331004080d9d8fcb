package core

import "math"

// DistanceM takes one measurement and returns the distance in metres
func (r *Ranger) DistanceM() (float32, error) {
	cm, err := r.DistanceCM()
	if err != nil {
		return 0, err
	}
	return cm / 100, nil
}

// DistanceMM takes one measurement and returns the distance in millimetres
func (r *Ranger) DistanceMM() (float32, error) {
	cm, err := r.DistanceCM()
	if err != nil {
		return 0, err
	}
	return cm * 10, nil
}

// ForwardSpeed samples the distance twice, elapsed seconds apart, and
// returns the radial speed in m/s. Positive means the object is receding.
// The pause uses the coarse Sleeper, truncated to whole milliseconds.
func (r *Ranger) ForwardSpeed(elapsed float32) (float32, error) {
	if !(elapsed > 0) {
		return 0, ErrInvalidArgument
	}
	ms := 1000 * elapsed
	if ms >= math.MaxUint32 {
		return 0, ErrInvalidArgument
	}

	xi, err := r.DistanceM()
	if err != nil {
		return 0, err
	}

	r.sleep.SleepMillis(uint32(ms))

	xf, err := r.DistanceM()
	if err != nil {
		return 0, err
	}

	return (xf - xi) / elapsed, nil
}

// Crossing states
const (
	crossWaiting  = iota // object not yet inside the threshold
	crossInbound         // object came inside the threshold
	crossCounting        // object left again, ticks are accumulating
	crossDone
)

// CrossSpeed waits for an object to come within thresholdCM, leave, and
// come back, counting a tick per sample while it is outside. It returns
// knownDistance / (ticks * 2.8), in knownDistance units per µs.
func (r *Ranger) CrossSpeed(knownDistance, thresholdCM float32) (float32, error) {
	state := crossWaiting
	var ticks, polls uint32

	for state != crossDone {
		if r.cfg.CrossPollLimit != NoLimit && polls == r.cfg.CrossPollLimit {
			RecordTiming(EvtTimeout, GetTime(), PhaseCrossing, polls)
			return 0, &TimeoutError{Phase: PhaseCrossing, Count: polls}
		}
		polls++

		d, err := r.DistanceCM()
		if err != nil {
			return 0, err
		}
		inside := d <= thresholdCM

		switch state {
		case crossWaiting:
			if inside {
				state = crossInbound
				RecordTiming(EvtCross, GetTime(), crossInbound, 0)
			}
		case crossInbound, crossCounting:
			if inside {
				state = crossDone
			} else {
				state = crossCounting
				ticks++
				r.delay.StartOneShotWait(TickMicros)
			}
		}
	}
	RecordTiming(EvtCross, GetTime(), crossDone, ticks)

	if ticks == 0 {
		return 0, ErrNoTransit
	}
	return float32(float64(knownDistance) / (float64(ticks) * TickScale)), nil
}

// IsWithinRange reports whether the current distance lies in [lowerCM, upperCM]
func (r *Ranger) IsWithinRange(lowerCM, upperCM float32) (bool, error) {
	d, err := r.DistanceCM()
	if err != nil {
		return false, err
	}
	return d >= lowerCM && d <= upperCM, nil
}
