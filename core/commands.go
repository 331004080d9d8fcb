package core

import (
	"errors"
	"math"

	"ranger/protocol"
)

// Response status codes carried as the first argument of every response
const (
	StatusOK uint8 = iota
	StatusTimeout
	StatusNoTransit
	StatusError
)

// Units accepted by measure_distance
const (
	UnitCM uint8 = iota
	UnitM
	UnitMM
)

// TimingDumpBatch is the most timing_event responses one dump_timing sends.
// The host asks again with start advanced until timing_end reports no more.
const TimingDumpBatch = 16

// Floats travel as their IEEE-754 bits in a %u field
const configFormat = "speed_sound=%u echo_rise_limit=%u pulse_tick_limit=%u cross_poll_limit=%u mask_interrupts=%c"

// Global transport for sending responses (set by main)
var globalTransport *protocol.Transport

// SetGlobalTransport sets the global transport for sending responses
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

// The sensor the ranging commands act on (set by main)
var activeRanger *Ranger

// SetRanger selects the sensor served by the ranging commands
func SetRanger(r *Ranger) {
	activeRanger = r
}

// ActiveRanger returns the sensor served by the ranging commands, or nil
func ActiveRanger() *Ranger {
	return activeRanger
}

// InitRangerCommands registers the ranging command set.
// identify_response and identify must keep IDs 0 and 1; hosts bootstrap
// the dictionary download with them.
func InitRangerCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")       // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("set_config", configFormat, handleSetConfig)
	RegisterCommand("measure_distance", "unit=%c", handleMeasureDistance)
	RegisterCommand("forward_speed", "elapsed_ms=%u", handleForwardSpeed)
	RegisterCommand("cross_speed", "distance=%u threshold=%u", handleCrossSpeed)
	RegisterCommand("within_range", "lower=%u upper=%u", handleWithinRange)
	RegisterCommand("dump_timing", "start=%c", handleDumpTiming)

	// Response messages (MCU → Host)
	RegisterResponse("config", "status=%c "+configFormat)
	RegisterResponse("distance", "status=%c unit=%c value=%u")
	RegisterResponse("speed", "status=%c value=%u")
	RegisterResponse("in_range", "status=%c value=%c")
	RegisterResponse("timing_event", "index=%c type=%c clock=%u v1=%u v2=%u")
	RegisterResponse("timing_end", "total=%c")

	RegisterConstant("TICK_US", uint32(TickMicros))
	RegisterConstant("TICK_SCALE", float32(TickScale))
	RegisterConstant("TRIGGER_PULSE_US", uint32(TriggerPulseMicros))
	RegisterConstant("TIMING_DUMP_BATCH", uint32(TimingDumpBatch))
}

// StatusOf maps a measurement error to its response status code
func StatusOf(err error) uint8 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrTimeout):
		return StatusTimeout
	case errors.Is(err, ErrNoTransit):
		return StatusNoTransit
	}
	return StatusError
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
	return nil
}

func handleGetConfig(data *[]byte) error {
	if activeRanger == nil {
		sendConfig(StatusError, Config{})
		return nil
	}
	sendConfig(StatusOK, activeRanger.Config())
	return nil
}

func handleSetConfig(data *[]byte) error {
	var cfg Config
	var err error

	if cfg.SpeedSound, err = protocol.DecodeVLQFloat(data); err != nil {
		return err
	}
	if cfg.EchoRiseLimit, err = protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	if cfg.PulseTickLimit, err = protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	if cfg.CrossPollLimit, err = protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	if cfg.MaskInterrupts, err = protocol.DecodeVLQBool(data); err != nil {
		return err
	}

	if activeRanger == nil {
		sendConfig(StatusError, Config{})
		return nil
	}

	// A rejected config leaves the old one in place; report what is active
	status := StatusOf(activeRanger.SetConfig(cfg))
	if status == StatusOK {
		DebugPrintln("[ranger] config speed_sound=" + ftoa(cfg.SpeedSound))
	}
	sendConfig(status, activeRanger.Config())
	return nil
}

func sendConfig(status uint8, cfg Config) {
	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(status))
		protocol.EncodeVLQFloat(output, cfg.SpeedSound)
		protocol.EncodeVLQUint(output, cfg.EchoRiseLimit)
		protocol.EncodeVLQUint(output, cfg.PulseTickLimit)
		protocol.EncodeVLQUint(output, cfg.CrossPollLimit)
		protocol.EncodeVLQBool(output, cfg.MaskInterrupts)
	})
}

func handleMeasureDistance(data *[]byte) error {
	unit, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	var value float32
	switch {
	case activeRanger == nil:
		err = ErrNotConfigured
	case unit == uint32(UnitCM):
		value, err = activeRanger.DistanceCM()
	case unit == uint32(UnitM):
		value, err = activeRanger.DistanceM()
	case unit == uint32(UnitMM):
		value, err = activeRanger.DistanceMM()
	default:
		err = ErrInvalidArgument
	}

	status := StatusOf(err)
	if err != nil {
		DebugAsync("[ranger] distance: " + err.Error())
	}
	SendResponse("distance", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(status))
		protocol.EncodeVLQUint(output, unit)
		protocol.EncodeVLQFloat(output, value)
	})
	return nil
}

func handleForwardSpeed(data *[]byte) error {
	ms, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	var speed float32
	if activeRanger == nil {
		err = ErrNotConfigured
	} else {
		speed, err = activeRanger.ForwardSpeed(float32(ms) / 1000)
	}
	sendSpeed(StatusOf(err), speed)
	return nil
}

func handleCrossSpeed(data *[]byte) error {
	known, err := protocol.DecodeVLQFloat(data)
	if err != nil {
		return err
	}
	threshold, err := protocol.DecodeVLQFloat(data)
	if err != nil {
		return err
	}

	var speed float32
	if activeRanger == nil {
		err = ErrNotConfigured
	} else {
		speed, err = activeRanger.CrossSpeed(known, threshold)
	}
	sendSpeed(StatusOf(err), speed)
	return nil
}

func sendSpeed(status uint8, speed float32) {
	if status != StatusOK {
		speed = float32(math.NaN())
	}
	SendResponse("speed", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(status))
		protocol.EncodeVLQFloat(output, speed)
	})
}

func handleWithinRange(data *[]byte) error {
	lower, err := protocol.DecodeVLQFloat(data)
	if err != nil {
		return err
	}
	upper, err := protocol.DecodeVLQFloat(data)
	if err != nil {
		return err
	}

	var inside bool
	if activeRanger == nil {
		err = ErrNotConfigured
	} else {
		inside, err = activeRanger.IsWithinRange(lower, upper)
	}

	status := StatusOf(err)
	SendResponse("in_range", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(status))
		protocol.EncodeVLQBool(output, inside)
	})
	return nil
}

// handleDumpTiming sends up to TimingDumpBatch events starting at start,
// oldest first, then timing_end with the ring's event count
func handleDumpTiming(data *[]byte) error {
	start, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	events := TimingEvents()
	DumpTimingRing()

	for i := int(start); i < len(events) && i < int(start)+TimingDumpBatch; i++ {
		evt := events[i]
		idx := uint32(i)
		SendResponse("timing_event", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, idx)
			protocol.EncodeVLQUint(output, uint32(evt.EventType))
			protocol.EncodeVLQUint(output, evt.Clock)
			protocol.EncodeVLQUint(output, evt.Value1)
			protocol.EncodeVLQUint(output, evt.Value2)
		})
	}

	total := uint32(len(events))
	SendResponse("timing_end", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, total)
	})
	return nil
}

// SendResponse sends a response message using the global transport
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		// All responses are registered by InitRangerCommands
		panic("Response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}
