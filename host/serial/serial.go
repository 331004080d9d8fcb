// Package serial opens the byte stream between ranger-host and the board.
package serial

import (
	"errors"
	"io"
	"net"
)

// Port is a serial link to a board. Implementations:
// - Native serial (using github.com/tarm/serial)
// - In-process pipe to a simulated board
type Port interface {
	io.ReadWriteCloser

	// Flush discards data not yet read or written
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate (USB CDC boards ignore it)
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the configuration used when only a device is known
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100,
	}
}

// Validate reports configuration errors before the device is touched
func (c *Config) Validate() error {
	if c.Device == "" {
		return errors.New("serial: no device")
	}
	if c.Baud <= 0 {
		return errors.New("serial: baud must be positive")
	}
	if c.ReadTimeout < 0 {
		return errors.New("serial: negative read timeout")
	}
	return nil
}

// pipePort is one end of an in-memory link
type pipePort struct {
	net.Conn
}

func (pipePort) Flush() error { return nil }

// Pipe returns a connected pair: a Port for the host and the stream a
// simulated board serves. Closing either end unblocks the other.
func Pipe() (Port, io.ReadWriteCloser) {
	host, device := net.Pipe()
	return pipePort{host}, device
}
