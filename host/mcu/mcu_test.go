package mcu

import (
	"bytes"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp/cmpopts"

	"ranger/core"
	"ranger/host/serial"
	"ranger/sim"
)

var handle = core.NewHandle(0, 0, 0, 1)

// The simulated firmware installs process-wide state, so every test
// shares one device and resets what it scripts.
var device *sim.Device

func connect(c *qt.C) *MCU {
	host, devEnd := serial.Pipe()
	if device == nil {
		d, err := sim.NewDevice(handle, core.DefaultConfig(), devEnd)
		c.Assert(err, qt.IsNil)
		device = d
	} else {
		device.Link = core.NewLink(devEnd)
	}
	c.Assert(device.Ranger.SetConfig(core.DefaultConfig()), qt.IsNil)
	device.Board.SetCycle(false)

	done := make(chan struct{})
	link := device.Link
	go func() {
		defer close(done)
		_ = link.Serve(devEnd)
	}()

	m := NewMCU()
	m.ConnectPort(host)
	c.Cleanup(func() {
		m.Close()
		<-done
	})

	c.Assert(m.IsConnected(), qt.IsTrue)
	c.Assert(m.RetrieveDictionary(), qt.IsNil)
	return m
}

func TestRetrieveDictionary(t *testing.T) {
	c := qt.New(t)
	m := connect(c)

	dict := m.GetDictionary()
	c.Assert(dict.Version, qt.Equals, core.Version)
	c.Assert(dict.Config["MCU"], qt.Equals, "sim")
	c.Assert(dict.Commands["identify offset=%u count=%c"], qt.Equals, 1)
	c.Assert(dict.Responses["identify_response offset=%u data=%*s"], qt.Equals, 0)
	c.Assert(dict.Commands["within_range lower=%u upper=%u"], qt.Equals, 7)
	_, ok := dict.Responses["timing_end total=%c"]
	c.Assert(ok, qt.IsTrue)

	var out bytes.Buffer
	m.PrintDictionary(&out)
	c.Assert(out.String(), qt.Contains, "[1] identify offset=%u count=%c")
}

func TestMeasureDistance(t *testing.T) {
	c := qt.New(t)
	m := connect(c)

	device.Board.ScriptTicks(2000)
	cm, err := m.MeasureDistance(core.UnitCM)
	c.Assert(err, qt.IsNil)
	c.Assert(cm, qt.Equals, float32(float64(2000)*2.8*float64(core.DefaultSpeedSound)))

	device.Board.ScriptTicks(2000)
	mm, err := m.MeasureDistance(core.UnitMM)
	c.Assert(err, qt.IsNil)
	c.Assert(mm, qt.Equals, cm*10)
}

func TestStatusErrors(t *testing.T) {
	c := qt.New(t)
	m := connect(c)

	cfg := core.DefaultConfig()
	cfg.EchoRiseLimit = 10
	_, err := m.SetConfig(cfg)
	c.Assert(err, qt.IsNil)

	device.Board.ScriptTicks(sim.EchoNever)
	_, err = m.MeasureDistance(core.UnitCM)
	c.Assert(err, qt.ErrorIs, core.ErrTimeout)

	_, err = m.MeasureDistance(7)
	c.Assert(err, qt.ErrorIs, ErrRemote)

	device.Board.ScriptDistances(core.DefaultSpeedSound, 50, 50)
	_, err = m.CrossSpeed(200, 100)
	c.Assert(err, qt.ErrorIs, core.ErrNoTransit)
}

func TestForwardAndCrossSpeed(t *testing.T) {
	c := qt.New(t)
	m := connect(c)

	device.Board.ScriptTicks(1000, 1250)
	speed, err := m.ForwardSpeed(500 * time.Millisecond)
	c.Assert(err, qt.IsNil)
	want := (float32(float64(1250)*2.8*float64(core.DefaultSpeedSound))/100 -
		float32(float64(1000)*2.8*float64(core.DefaultSpeedSound))/100) / float32(0.5)
	c.Assert(speed, qt.CmpEquals(cmpopts.EquateApprox(0, 1e-6)), want)

	device.Board.ScriptDistances(core.DefaultSpeedSound, 300, 60, 300, 300, 300, 300, 60)
	speed, err = m.CrossSpeed(200, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(speed, qt.Equals, float32(float64(200)/(float64(4)*core.TickScale)))
}

func TestWithinRange(t *testing.T) {
	c := qt.New(t)
	m := connect(c)

	device.Board.ScriptDistances(core.DefaultSpeedSound, 50)
	inside, err := m.WithinRange(10, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(inside, qt.IsTrue)

	device.Board.ScriptDistances(core.DefaultSpeedSound, 150)
	inside, err = m.WithinRange(10, 100)
	c.Assert(err, qt.IsNil)
	c.Assert(inside, qt.IsFalse)
}

func TestConfigRoundTrip(t *testing.T) {
	c := qt.New(t)
	m := connect(c)

	got, err := m.GetConfig()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, core.DefaultConfig())

	want := core.Config{SpeedSound: 0.0343, EchoRiseLimit: 5, PulseTickLimit: 6, CrossPollLimit: 7, MaskInterrupts: true}
	got, err = m.SetConfig(want)
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, want)

	bad := want
	bad.SpeedSound = 0
	got, err = m.SetConfig(bad)
	c.Assert(err, qt.ErrorIs, ErrRemote)
	c.Assert(got, qt.Equals, want)
}

func TestTimingEvents(t *testing.T) {
	c := qt.New(t)
	m := connect(c)
	core.ClearTimingRing()

	for i := 0; i < 12; i++ {
		device.Board.ScriptTicks(uint32(10 + i))
		_, err := m.MeasureDistance(core.UnitCM)
		c.Assert(err, qt.IsNil)
	}

	events, err := m.TimingEvents()
	c.Assert(err, qt.IsNil)
	c.Assert(events, qt.HasLen, core.TimingRingSize)

	last := events[len(events)-1]
	c.Assert(last.EventType, qt.Equals, uint8(core.EvtEchoFall))
	c.Assert(last.Value1, qt.Equals, uint32(21))
}

func TestNotConnected(t *testing.T) {
	c := qt.New(t)

	m := NewMCU()
	c.Assert(m.IsConnected(), qt.IsFalse)
	c.Assert(m.RetrieveDictionary(), qt.Equals, ErrNotConnected)
	_, err := m.MeasureDistance(core.UnitCM)
	c.Assert(err, qt.Equals, ErrNotConnected)
}

func TestSignatureName(t *testing.T) {
	c := qt.New(t)
	c.Assert(signatureName("within_range lower=%u upper=%u"), qt.Equals, "within_range")
	c.Assert(signatureName("dump_timing"), qt.Equals, "dump_timing")
}
