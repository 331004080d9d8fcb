// Package config loads the JSON description of one ranging sensor: its
// pins, calibration, polling limits and the serial link to its board.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ranger/core"
)

var ErrBadPin = errors.New("invalid pin name")

// SerialConfig describes the host side of the link
type SerialConfig struct {
	Device        string `json:"device"`
	Baud          int    `json:"baud"`
	ReadTimeoutMS int    `json:"read_timeout_ms"`

	// CommandTimeoutMS bounds commands that wait on the scene, like
	// cross_speed; other commands use the transport default
	CommandTimeoutMS int `json:"command_timeout_ms"`
}

// SensorConfig is the top-level configuration document
type SensorConfig struct {
	Trigger string `json:"trigger"`
	Echo    string `json:"echo"`

	core.Config

	Serial SerialConfig `json:"serial"`
}

// LoadConfig parses a JSON configuration. Fields left out keep their
// defaults; a limit given as 0 disables that limit.
func LoadConfig(jsonData []byte) (*SensorConfig, error) {
	config := DefaultConfig()

	if err := json.Unmarshal(jsonData, config); err != nil {
		return nil, err
	}

	applyDefaults(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*SensorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// applyDefaults fills in zero values that cannot mean "unset on purpose"
func applyDefaults(config *SensorConfig) {
	if config.Serial.Device == "" {
		config.Serial.Device = "/dev/ttyACM0"
	}
	if config.Serial.Baud == 0 {
		config.Serial.Baud = 250000
	}
	if config.Serial.ReadTimeoutMS == 0 {
		config.Serial.ReadTimeoutMS = 100
	}
	if config.Serial.CommandTimeoutMS == 0 {
		config.Serial.CommandTimeoutMS = 60000
	}
}

// Validate checks the pins and calibration
func (c *SensorConfig) Validate() error {
	trig, err := ParsePin(c.Trigger)
	if err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	echo, err := ParsePin(c.Echo)
	if err != nil {
		return fmt.Errorf("echo: %w", err)
	}
	if trig == echo {
		return fmt.Errorf("trigger and echo share pin %s", trig)
	}
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("speed_sound %v: %w", c.SpeedSound, err)
	}
	if c.Serial.Baud < 0 {
		return fmt.Errorf("serial baud %d", c.Serial.Baud)
	}
	return nil
}

// Handle returns the sensor handle for the configured pins
func (c *SensorConfig) Handle() (core.Handle, error) {
	trig, err := ParsePin(c.Trigger)
	if err != nil {
		return core.Handle{}, err
	}
	echo, err := ParsePin(c.Echo)
	if err != nil {
		return core.Handle{}, err
	}
	return core.NewHandle(trig.Port, trig.Num, echo.Port, echo.Num), nil
}

// Core returns the driver configuration
func (c *SensorConfig) Core() core.Config {
	return c.Config
}

// ParsePin maps a pin name to a core.Pin. STM32 names ("PA0", "pc13")
// carry a port letter and a pin number up to 15; RP2040 names ("gpio7")
// live on port 0.
func ParsePin(name string) (core.Pin, error) {
	lower := strings.ToLower(strings.TrimSpace(name))

	if num, ok := strings.CutPrefix(lower, "gpio"); ok {
		n, err := strconv.ParseUint(num, 10, 8)
		if err != nil || n > 29 {
			return core.Pin{}, fmt.Errorf("%w: %q", ErrBadPin, name)
		}
		return core.Pin{Port: 0, Num: uint8(n)}, nil
	}

	if len(lower) < 3 || lower[0] != 'p' || lower[1] < 'a' || lower[1] > 'k' {
		return core.Pin{}, fmt.Errorf("%w: %q", ErrBadPin, name)
	}
	n, err := strconv.ParseUint(lower[2:], 10, 8)
	if err != nil || n > 15 {
		return core.Pin{}, fmt.Errorf("%w: %q", ErrBadPin, name)
	}
	return core.Pin{Port: lower[1] - 'a', Num: uint8(n)}, nil
}

// DefaultConfig returns the wiring of the reference board: trigger on
// PA0, echo on PA1, historical calibration, bounded echo waits
func DefaultConfig() *SensorConfig {
	return &SensorConfig{
		Trigger: "PA0",
		Echo:    "PA1",
		Config:  core.DefaultConfig(),
		Serial: SerialConfig{
			Device:           "/dev/ttyACM0",
			Baud:             250000,
			ReadTimeoutMS:    100,
			CommandTimeoutMS: 60000,
		},
	}
}
