package core_test

import (
	"bytes"
	"errors"
	"math"
	"testing"

	qt "github.com/frankban/quicktest"

	"ranger/core"
	"ranger/protocol"
	"ranger/sim"
)

type response struct {
	name string
	args []byte
}

// linkHarness drives the command set through a Link the way a host would
type linkHarness struct {
	c     *qt.C
	link  *core.Link
	out   *bytes.Buffer
	seq   uint8
	board *sim.Board
}

func newLinkHarness(c *qt.C, cfg core.Config) *linkHarness {
	core.InitRangerCommands()

	r, board := newSimRanger(c, cfg)
	core.SetRanger(r)
	c.Cleanup(func() { core.SetRanger(nil) })

	out := &bytes.Buffer{}
	link := core.NewLink(out)
	c.Cleanup(func() { core.SetGlobalTransport(nil) })

	return &linkHarness{c: c, link: link, out: out, seq: protocol.MessageDest, board: board}
}

func (h *linkHarness) call(name string, args func(o protocol.OutputBuffer)) []response {
	cmd, ok := core.GetGlobalRegistry().GetCommandByName(name)
	h.c.Assert(ok, qt.IsTrue, qt.Commentf("command %s", name))

	payload := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(payload, uint32(cmd.ID))
	if args != nil {
		args(payload)
	}
	block, err := protocol.AppendBlock(nil, h.seq, payload.Result())
	h.c.Assert(err, qt.IsNil)

	h.c.Assert(h.link.Feed(block), qt.Equals, len(block))
	h.c.Assert(h.link.Poll(), qt.IsNil)

	var resps []response
	acked := false
	data := h.out.Bytes()
	for len(data) > 0 {
		n := int(data[protocol.MessagePositionLen])
		h.c.Assert(len(data) >= n, qt.IsTrue)
		body := data[protocol.MessageHeaderSize : n-protocol.MessageTrailerSize]
		if len(body) == 0 {
			h.seq = data[protocol.MessagePositionSeq]
			acked = true
		} else {
			id, err := protocol.DecodeVLQUint(&body)
			h.c.Assert(err, qt.IsNil)
			rc, ok := core.GetGlobalRegistry().GetCommand(uint16(id))
			h.c.Assert(ok, qt.IsTrue)
			resps = append(resps, response{name: rc.Name, args: append([]byte(nil), body...)})
		}
		data = data[n:]
	}
	h.out.Reset()
	h.c.Assert(acked, qt.IsTrue, qt.Commentf("no ACK for %s", name))
	return resps
}

// one calls name and expects a single response named want
func (h *linkHarness) one(name, want string, args func(o protocol.OutputBuffer)) []byte {
	resps := h.call(name, args)
	h.c.Assert(resps, qt.HasLen, 1)
	h.c.Assert(resps[0].name, qt.Equals, want)
	return resps[0].args
}

func decodeUints(c *qt.C, data []byte, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		v, err := protocol.DecodeVLQUint(&data)
		c.Assert(err, qt.IsNil)
		out[i] = v
	}
	c.Assert(data, qt.HasLen, 0)
	return out
}

func f32(bits uint32) float32 { return math.Float32frombits(bits) }

func TestBootstrapIDs(t *testing.T) {
	c := qt.New(t)
	core.InitRangerCommands()

	resp, ok := core.GetGlobalRegistry().GetCommandByName("identify_response")
	c.Assert(ok, qt.IsTrue)
	c.Assert(resp.ID, qt.Equals, uint16(0))

	ident, ok := core.GetGlobalRegistry().GetCommandByName("identify")
	c.Assert(ok, qt.IsTrue)
	c.Assert(ident.ID, qt.Equals, uint16(1))
}

func TestIdentify(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())
	core.GetGlobalDictionary().BuildDictionary()

	args := h.one("identify", "identify_response", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 0)
		protocol.EncodeVLQUint(o, 40)
	})

	offset, err := protocol.DecodeVLQUint(&args)
	c.Assert(err, qt.IsNil)
	c.Assert(offset, qt.Equals, uint32(0))
	chunk, err := protocol.DecodeVLQBytes(&args)
	c.Assert(err, qt.IsNil)
	c.Assert(chunk, qt.DeepEquals, core.GetGlobalDictionary().GetChunk(0, 40))
}

func TestMeasureDistanceCommand(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())

	cm := float32(float64(1000) * 2.8 * float64(core.DefaultSpeedSound))
	tests := []struct {
		unit uint8
		want float32
	}{
		{core.UnitCM, cm},
		{core.UnitM, cm / 100},
		{core.UnitMM, cm * 10},
	}
	for _, tc := range tests {
		h.board.ScriptTicks(1000)
		args := h.one("measure_distance", "distance", func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, uint32(tc.unit))
		})
		got := decodeUints(c, args, 3)
		c.Assert(got[0], qt.Equals, uint32(core.StatusOK))
		c.Assert(got[1], qt.Equals, uint32(tc.unit))
		c.Assert(f32(got[2]), qt.Equals, tc.want)
	}
}

func TestMeasureDistanceStatus(t *testing.T) {
	c := qt.New(t)

	cfg := core.DefaultConfig()
	cfg.EchoRiseLimit = 20
	h := newLinkHarness(c, cfg)

	h.board.ScriptTicks(sim.EchoNever)
	args := h.one("measure_distance", "distance", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(core.UnitCM))
	})
	c.Assert(decodeUints(c, args, 3)[0], qt.Equals, uint32(core.StatusTimeout))

	// Unknown units, including ones whose low byte is a valid unit, are
	// rejected without firing the sensor
	for _, unit := range []uint32{9, 256 + uint32(core.UnitCM)} {
		before, _ := h.board.Pulses()
		args = h.one("measure_distance", "distance", func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, unit)
		})
		got := decodeUints(c, args, 3)
		c.Assert(got[0], qt.Equals, uint32(core.StatusError))
		c.Assert(got[1], qt.Equals, unit)
		after, _ := h.board.Pulses()
		c.Assert(after, qt.Equals, before, qt.Commentf("unit %d", unit))
	}
}

func TestCommandsWithoutRanger(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())
	core.SetRanger(nil)

	args := h.one("within_range", "in_range", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQFloat(o, 10)
		protocol.EncodeVLQFloat(o, 100)
	})
	c.Assert(decodeUints(c, args, 2)[0], qt.Equals, uint32(core.StatusError))
}

func TestForwardSpeedCommand(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, unitConfig())
	h.board.ScriptDistances(unitSpeed, 100, 150)

	args := h.one("forward_speed", "speed", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 1000)
	})
	got := decodeUints(c, args, 2)
	c.Assert(got[0], qt.Equals, uint32(core.StatusOK))
	c.Assert(float64(f32(got[1])), approx, 0.5)
	c.Assert(h.board.Slept(), qt.DeepEquals, []uint32{1000})

	args = h.one("forward_speed", "speed", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 0)
	})
	got = decodeUints(c, args, 2)
	c.Assert(got[0], qt.Equals, uint32(core.StatusError))
	c.Assert(math.IsNaN(float64(f32(got[1]))), qt.IsTrue)
}

func TestCrossSpeedCommand(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())

	cross := func(script ...float32) []uint32 {
		h.board.ScriptDistances(core.DefaultSpeedSound, script...)
		args := h.one("cross_speed", "speed", func(o protocol.OutputBuffer) {
			protocol.EncodeVLQFloat(o, 200)
			protocol.EncodeVLQFloat(o, 100)
		})
		return decodeUints(c, args, 2)
	}

	got := cross(300, 50, 300, 300, 50)
	c.Assert(got[0], qt.Equals, uint32(core.StatusOK))
	c.Assert(f32(got[1]), qt.Equals, float32(float64(200)/(float64(2)*core.TickScale)))

	got = cross(50, 50)
	c.Assert(got[0], qt.Equals, uint32(core.StatusNoTransit))
}

func TestWithinRangeCommand(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())

	for _, tc := range []struct {
		cm   float32
		want uint32
	}{{50, 1}, {5, 0}, {150, 0}} {
		h.board.ScriptDistances(core.DefaultSpeedSound, tc.cm)
		args := h.one("within_range", "in_range", func(o protocol.OutputBuffer) {
			protocol.EncodeVLQFloat(o, 10)
			protocol.EncodeVLQFloat(o, 100)
		})
		got := decodeUints(c, args, 2)
		c.Assert(got, qt.DeepEquals, []uint32{uint32(core.StatusOK), tc.want})
	}
}

func TestConfigCommands(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())

	args := h.one("get_config", "config", nil)
	got := decodeUints(c, args, 6)
	c.Assert(got[0], qt.Equals, uint32(core.StatusOK))
	c.Assert(f32(got[1]), qt.Equals, core.DefaultSpeedSound)
	c.Assert(got[2:], qt.DeepEquals, []uint32{core.DefaultEchoRiseLimit, core.DefaultPulseTickLimit, core.NoLimit, 0})

	set := func(speed float32) []uint32 {
		args := h.one("set_config", "config", func(o protocol.OutputBuffer) {
			protocol.EncodeVLQFloat(o, speed)
			protocol.EncodeVLQUint(o, 100)
			protocol.EncodeVLQUint(o, 200)
			protocol.EncodeVLQUint(o, 300)
			protocol.EncodeVLQBool(o, true)
		})
		return decodeUints(c, args, 6)
	}

	got = set(0.0343)
	c.Assert(got[0], qt.Equals, uint32(core.StatusOK))
	c.Assert(f32(got[1]), qt.Equals, float32(0.0343))
	c.Assert(got[2:], qt.DeepEquals, []uint32{100, 200, 300, 1})
	c.Assert(core.ActiveRanger().Config().CrossPollLimit, qt.Equals, uint32(300))

	// Rejected config keeps the active one
	got = set(-1)
	c.Assert(got[0], qt.Equals, uint32(core.StatusError))
	c.Assert(f32(got[1]), qt.Equals, float32(0.0343))
}

func TestDumpTimingCommand(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())
	core.ClearTimingRing()
	defer core.ClearTimingRing()

	h.board.ScriptTicks(25)
	h.one("measure_distance", "distance", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(core.UnitCM))
	})

	resps := h.call("dump_timing", func(o protocol.OutputBuffer) { protocol.EncodeVLQUint(o, 0) })
	c.Assert(resps, qt.HasLen, 4)
	for i, r := range resps[:3] {
		c.Assert(r.name, qt.Equals, "timing_event")
		got := decodeUints(c, r.args, 5)
		c.Assert(got[0], qt.Equals, uint32(i))
	}
	fall := decodeUints(c, resps[2].args, 5)
	c.Assert(fall[1], qt.Equals, uint32(core.EvtEchoFall))
	c.Assert(fall[3], qt.Equals, uint32(25))

	c.Assert(resps[3].name, qt.Equals, "timing_end")
	c.Assert(decodeUints(c, resps[3].args, 1), qt.DeepEquals, []uint32{3})
}

func TestDumpTimingBatches(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())
	core.ClearTimingRing()
	defer core.ClearTimingRing()

	for i := uint32(0); i < core.TimingRingSize; i++ {
		core.RecordTiming(core.EvtCross, i, 0, 0)
	}

	first := h.call("dump_timing", func(o protocol.OutputBuffer) { protocol.EncodeVLQUint(o, 0) })
	c.Assert(first, qt.HasLen, core.TimingDumpBatch+1)

	second := h.call("dump_timing", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, core.TimingDumpBatch)
	})
	c.Assert(second, qt.HasLen, core.TimingRingSize-core.TimingDumpBatch+1)
	idx := decodeUints(c, second[0].args, 5)[0]
	c.Assert(idx, qt.Equals, uint32(core.TimingDumpBatch))
}

func TestLinkResetRestartsSequence(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())

	h.call("get_config", nil)
	h.call("get_config", nil)
	c.Assert(h.seq, qt.Equals, uint8(0x12))

	h.link.Reset()
	h.seq = protocol.MessageDest
	h.call("get_config", nil)
	c.Assert(h.seq, qt.Equals, uint8(0x11))
	c.Assert(h.link.Stats().Received, qt.Equals, uint32(1))
}

func TestLinkServe(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())

	cmd, _ := core.GetGlobalRegistry().GetCommandByName("get_config")
	payload := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(payload, uint32(cmd.ID))
	block, err := protocol.AppendBlock(nil, protocol.MessageDest, payload.Result())
	c.Assert(err, qt.IsNil)

	// Garbage before the block forces a resync first
	stream := append([]byte{0x01, 0x02, protocol.MessageValueSync}, block...)
	err = h.link.Serve(bytes.NewReader(stream))
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(bytes.Contains(h.out.Bytes(), []byte{5, 0x11}), qt.IsTrue)
}

type brokenWriter struct{}

var errUnplugged = errors.New("unplugged")

func (brokenWriter) Write([]byte) (int, error) { return 0, errUnplugged }

func TestLinkServeStopsOnWriteError(t *testing.T) {
	c := qt.New(t)
	h := newLinkHarness(c, core.DefaultConfig())
	link := core.NewLink(brokenWriter{})

	cmd, _ := core.GetGlobalRegistry().GetCommandByName("get_config")
	payload := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(payload, uint32(cmd.ID))
	block, err := protocol.AppendBlock(nil, protocol.MessageDest, payload.Result())
	c.Assert(err, qt.IsNil)

	// The reader never ends; only the failed ACK write can stop Serve
	stream := append(append([]byte{protocol.MessageValueSync}, block...), block...)
	err = link.Serve(&endless{data: stream})
	c.Assert(err, qt.ErrorIs, errUnplugged)
	c.Assert(link.Stats().WriteFailures > 0, qt.IsTrue)
	c.Assert(h.out.Len(), qt.Equals, 0)
}

// endless returns data once, then reads that carry nothing
type endless struct {
	data  []byte
	reads int
}

func (e *endless) Read(p []byte) (int, error) {
	e.reads++
	if e.reads > 1000 {
		return 0, errors.New("Serve kept reading after a failed write")
	}
	n := copy(p, e.data)
	e.data = e.data[n:]
	return n, nil
}
