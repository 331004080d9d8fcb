package core

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

// regLog is a TimerBlock that records every register access and expires
// the counter after `spin` polls
type regLog struct {
	ops  []string
	spin int
	left int
	uif  bool
}

func (r *regLog) SetAutoReload(v uint32) { r.ops = append(r.ops, "ARR="+utoa(v)) }
func (r *regLog) GenerateUpdate()        { r.ops = append(r.ops, "EGR.UG"); r.uif = true }
func (r *regLog) ClearUpdate()           { r.ops = append(r.ops, "SR.UIF=0"); r.uif = false }
func (r *regLog) Enable()                { r.ops = append(r.ops, "CR1.CEN"); r.left = r.spin }

func (r *regLog) UpdatePending() bool {
	r.ops = append(r.ops, "poll")
	if !r.uif {
		if r.left == 0 {
			r.uif = true
		} else {
			r.left--
		}
	}
	return r.uif
}

func TestMicroDelaySequence(t *testing.T) {
	c := qt.New(t)

	tim := &regLog{spin: 2}
	NewMicroDelay(tim).Wait(10)

	c.Assert(tim.ops, qt.DeepEquals, []string{
		"ARR=9", "EGR.UG", "SR.UIF=0", "CR1.CEN",
		"poll", "poll", "poll",
		"SR.UIF=0",
	})
}

func TestMicroDelayClamp(t *testing.T) {
	c := qt.New(t)

	trace := func(us uint32) ([]string, uint32) {
		SetTime(0)
		tim := &regLog{spin: 1}
		NewMicroDelay(tim).Wait(us)
		return tim.ops, GetTime()
	}

	want, wantElapsed := trace(MinDelayMicros)
	for _, us := range []uint32{0, 1} {
		got, elapsed := trace(us)
		c.Assert(got, qt.DeepEquals, want, qt.Commentf("Wait(%d)", us))
		c.Assert(elapsed, qt.Equals, wantElapsed)
	}
	c.Assert(wantElapsed, qt.Equals, uint32(MinDelayMicros))
}

func TestStartOneShotWaitAdvancesClock(t *testing.T) {
	c := qt.New(t)

	SetTime(100)
	var d OneShotTimer = NewMicroDelay(&regLog{})
	d.StartOneShotWait(TickMicros)
	d.StartOneShotWait(TickMicros)
	c.Assert(GetTime(), qt.Equals, uint32(104))
}
