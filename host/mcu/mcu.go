// Package mcu is the host client of the ranging firmware: it downloads the
// command dictionary and exposes each ranging command as a typed call.
package mcu

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"ranger/core"
	"ranger/host/serial"
	"ranger/protocol"
)

var (
	ErrNotConnected = errors.New("not connected to MCU")
	ErrNoDictionary = errors.New("dictionary not loaded")

	// ErrRemote is returned when the board answers with the generic error status
	ErrRemote = errors.New("MCU reported an error")
)

// Bootstrap IDs, fixed before the dictionary is known
const (
	identifyResponseID = 0
	identifyID         = 1
)

const (
	chunkSize       = 40
	responseTimeout = time.Second
)

// MCU represents a connection to a ranging board
type MCU struct {
	transport *protocol.HostTransport
	port      io.ReadWriteCloser

	dictionary     *Dictionary
	dictionaryData []byte
	commands       map[string]uint16 // command name -> ID
	responses      map[uint16]string // response ID -> name

	connected bool

	// CommandTimeout bounds commands that wait on the scene (cross_speed)
	CommandTimeout time.Duration

	// Log receives progress output; nil discards it
	Log io.Writer
}

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version   string            `json:"version"`
	Config    map[string]string `json:"config"`
	Commands  map[string]int    `json:"commands"`
	Responses map[string]int    `json:"responses"`
}

// NewMCU creates a new MCU instance (not yet connected)
func NewMCU() *MCU {
	return &MCU{
		CommandTimeout: time.Minute,
	}
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.Flush(); err != nil {
		m.logf("flush %s: %v\n", cfg.Device, err)
	}

	m.ConnectPort(port)

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)
	return nil
}

// ConnectPort runs the protocol over an already open stream
func (m *MCU) ConnectPort(port io.ReadWriteCloser) {
	m.port = port
	m.transport = protocol.NewHostTransport(port)
	m.connected = true
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	m.connected = false
	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}

func (m *MCU) logf(format string, args ...interface{}) {
	if m.Log != nil {
		fmt.Fprintf(m.Log, format, args...)
	}
}

// RetrieveDictionary downloads the dictionary in chunks and indexes it
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	m.logf("Retrieving dictionary from MCU...\n")

	var dictBuffer bytes.Buffer
	offset := uint32(0)
	maxIterations := 1000 // Safety limit

	for i := 0; i < maxIterations; i++ {
		chunk, err := m.sendIdentify(offset, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}
		if len(chunk) == 0 {
			break
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		if len(chunk) < chunkSize {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()
	m.logf("Dictionary retrieved: %d bytes\n", len(m.dictionaryData))

	if err := m.parseDictionary(); err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	return nil
}

// sendIdentify sends an identify command and waits for response
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, uint32(count))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send identify command: %w", err)
	}

	payload, err := m.awaitResponse(identifyResponseID, responseTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to receive identify response: %w", err)
	}

	respOffset, err := protocol.DecodeVLQUint(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	data, err := protocol.DecodeVLQBytes(&payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}
	return data, nil
}

// parseDictionary parses the dictionary JSON and indexes entries by name.
// Dictionary keys are full signatures ("within_range lower=%u upper=%u").
func (m *MCU) parseDictionary() error {
	dict := &Dictionary{}
	if err := json.Unmarshal(m.dictionaryData, dict); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	m.commands = make(map[string]uint16, len(dict.Commands))
	for sig, id := range dict.Commands {
		m.commands[signatureName(sig)] = uint16(id)
	}
	m.responses = make(map[uint16]string, len(dict.Responses))
	for sig, id := range dict.Responses {
		m.responses[uint16(id)] = signatureName(sig)
	}

	m.dictionary = dict
	return nil
}

func signatureName(sig string) string {
	name, _, _ := strings.Cut(sig, " ")
	return name
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary writes a summary of the dictionary to w
func (m *MCU) PrintDictionary(w io.Writer) {
	if m.dictionary == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}

	fmt.Fprintln(w, "\n=== MCU Dictionary ===")
	fmt.Fprintf(w, "Version: %s\n", m.dictionary.Version)

	fmt.Fprintln(w, "\nConfig:")
	for _, k := range sortedKeys(m.dictionary.Config) {
		fmt.Fprintf(w, "  %s = %s\n", k, m.dictionary.Config[k])
	}

	fmt.Fprintf(w, "\nCommands (%d):\n", len(m.dictionary.Commands))
	for _, sig := range sortedByID(m.dictionary.Commands) {
		fmt.Fprintf(w, "  [%d] %s\n", m.dictionary.Commands[sig], sig)
	}

	fmt.Fprintf(w, "\nResponses (%d):\n", len(m.dictionary.Responses))
	for _, sig := range sortedByID(m.dictionary.Responses) {
		fmt.Fprintf(w, "  [%d] %s\n", m.dictionary.Responses[sig], sig)
	}
	fmt.Fprintln(w, "======================")
}

// SendCommand sends a command by name and waits for its ACK
func (m *MCU) SendCommand(name string, args func(output protocol.OutputBuffer)) error {
	return m.sendCommand(name, args, protocol.DefaultAckTimeout)
}

func (m *MCU) sendCommand(name string, args func(output protocol.OutputBuffer), timeout time.Duration) error {
	if !m.connected {
		return ErrNotConnected
	}
	if m.dictionary == nil {
		return ErrNoDictionary
	}

	cmdID, ok := m.commands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}
	return m.transport.SendCommandWithTimeout(cmdID, args, timeout)
}

// awaitResponse returns the arguments of the next response with ID id,
// skipping any other response still queued
func (m *MCU) awaitResponse(id uint16, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		resp, err := m.transport.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return nil, err
		}

		payload := resp.Payload
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			continue
		}
		if uint16(got) == id {
			return payload, nil
		}
		m.logf("skipping response %d while waiting for %d\n", got, id)
	}
}

// call sends a command and returns the arguments of the named response.
// The board sends its response before the ACK, so the ACK timeout covers
// the time the command runs.
func (m *MCU) call(name, response string, args func(output protocol.OutputBuffer), timeout time.Duration) ([]byte, error) {
	if err := m.sendCommand(name, args, timeout); err != nil {
		return nil, err
	}

	respID, ok := m.responseID(response)
	if !ok {
		return nil, fmt.Errorf("unknown response: %s", response)
	}
	return m.awaitResponse(respID, responseTimeout)
}

func (m *MCU) responseID(name string) (uint16, bool) {
	for id, n := range m.responses {
		if n == name {
			return id, true
		}
	}
	return 0, false
}

// statusError maps a response status byte to the matching driver error
func statusError(status uint32) error {
	switch uint8(status) {
	case core.StatusOK:
		return nil
	case core.StatusTimeout:
		return core.ErrTimeout
	case core.StatusNoTransit:
		return core.ErrNoTransit
	}
	return ErrRemote
}

// decodeArgs decodes len(dst) VLQ values
func decodeArgs(data []byte, dst ...*uint32) error {
	for _, d := range dst {
		v, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return err
		}
		*d = v
	}
	return nil
}

// MeasureDistance takes one reading in unit (core.UnitCM, UnitM or UnitMM)
func (m *MCU) MeasureDistance(unit uint8) (float32, error) {
	args, err := m.call("measure_distance", "distance", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, uint32(unit))
	}, protocol.DefaultAckTimeout)
	if err != nil {
		return 0, err
	}

	var status, gotUnit, bits uint32
	if err := decodeArgs(args, &status, &gotUnit, &bits); err != nil {
		return 0, err
	}
	if err := statusError(status); err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// ForwardSpeed samples twice, elapsed apart, and returns the radial speed
// in m/s. elapsed is sent in whole milliseconds.
func (m *MCU) ForwardSpeed(elapsed time.Duration) (float32, error) {
	ms := uint32(elapsed / time.Millisecond)
	args, err := m.call("forward_speed", "speed", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, ms)
	}, elapsed+protocol.DefaultAckTimeout)
	if err != nil {
		return 0, err
	}
	return decodeSpeed(args)
}

// CrossSpeed waits for an object to pass through thresholdCM and returns
// distance / (ticks * 2.8). It blocks up to CommandTimeout.
func (m *MCU) CrossSpeed(distance, thresholdCM float32) (float32, error) {
	args, err := m.call("cross_speed", "speed", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQFloat(o, distance)
		protocol.EncodeVLQFloat(o, thresholdCM)
	}, m.CommandTimeout)
	if err != nil {
		return 0, err
	}
	return decodeSpeed(args)
}

func decodeSpeed(args []byte) (float32, error) {
	var status, bits uint32
	if err := decodeArgs(args, &status, &bits); err != nil {
		return 0, err
	}
	if err := statusError(status); err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// WithinRange reports whether the current distance lies in [lowerCM, upperCM]
func (m *MCU) WithinRange(lowerCM, upperCM float32) (bool, error) {
	args, err := m.call("within_range", "in_range", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQFloat(o, lowerCM)
		protocol.EncodeVLQFloat(o, upperCM)
	}, protocol.DefaultAckTimeout)
	if err != nil {
		return false, err
	}

	var status, inside uint32
	if err := decodeArgs(args, &status, &inside); err != nil {
		return false, err
	}
	if err := statusError(status); err != nil {
		return false, err
	}
	return inside != 0, nil
}

// GetConfig reads the active calibration and limits
func (m *MCU) GetConfig() (core.Config, error) {
	args, err := m.call("get_config", "config", nil, protocol.DefaultAckTimeout)
	if err != nil {
		return core.Config{}, err
	}
	return decodeConfig(args)
}

// SetConfig replaces the calibration and limits and returns what the board
// now uses. A rejected config returns ErrRemote and the unchanged config.
func (m *MCU) SetConfig(cfg core.Config) (core.Config, error) {
	args, err := m.call("set_config", "config", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQFloat(o, cfg.SpeedSound)
		protocol.EncodeVLQUint(o, cfg.EchoRiseLimit)
		protocol.EncodeVLQUint(o, cfg.PulseTickLimit)
		protocol.EncodeVLQUint(o, cfg.CrossPollLimit)
		protocol.EncodeVLQBool(o, cfg.MaskInterrupts)
	}, protocol.DefaultAckTimeout)
	if err != nil {
		return core.Config{}, err
	}
	return decodeConfig(args)
}

func decodeConfig(args []byte) (core.Config, error) {
	var status, bits, mask uint32
	var cfg core.Config
	if err := decodeArgs(args, &status, &bits, &cfg.EchoRiseLimit, &cfg.PulseTickLimit, &cfg.CrossPollLimit, &mask); err != nil {
		return core.Config{}, err
	}
	cfg.SpeedSound = math.Float32frombits(bits)
	cfg.MaskInterrupts = mask != 0
	return cfg, statusError(status)
}

// TimingEvents downloads the board's timing ring, oldest first
func (m *MCU) TimingEvents() ([]core.TimingEvent, error) {
	eventID, ok := m.responseID("timing_event")
	if !ok {
		return nil, fmt.Errorf("unknown response: timing_event")
	}
	endID, ok := m.responseID("timing_end")
	if !ok {
		return nil, fmt.Errorf("unknown response: timing_end")
	}

	var events []core.TimingEvent
	for start := uint32(0); ; {
		err := m.sendCommand("dump_timing", func(o protocol.OutputBuffer) {
			protocol.EncodeVLQUint(o, start)
		}, protocol.DefaultAckTimeout)
		if err != nil {
			return nil, err
		}

		before := len(events)
		var total uint32
		for done := false; !done; {
			resp, err := m.transport.ReceiveResponse(responseTimeout)
			if err != nil {
				return nil, err
			}
			payload := resp.Payload
			id, err := protocol.DecodeVLQUint(&payload)
			if err != nil {
				continue
			}

			switch uint16(id) {
			case eventID:
				var idx, kind uint32
				var evt core.TimingEvent
				if err := decodeArgs(payload, &idx, &kind, &evt.Clock, &evt.Value1, &evt.Value2); err != nil {
					return nil, err
				}
				evt.EventType = uint8(kind)
				events = append(events, evt)
			case endID:
				if err := decodeArgs(payload, &total); err != nil {
					return nil, err
				}
				done = true
			}
		}

		start = uint32(len(events))
		if len(events) == before || start >= total {
			return events, nil
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedByID(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return m[keys[i]] < m[keys[j]] })
	return keys
}
