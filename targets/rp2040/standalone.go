//go:build rp2040 || rp2350

package main

import (
	"time"

	"ranger/core"
)

// ModeConfig determines which mode to run
type ModeConfig struct {
	// Standalone prints readings over USB instead of serving the
	// command protocol
	Standalone bool

	// Interval between standalone readings
	Interval time.Duration
}

// GetMode returns the compiled-in mode
func GetMode() ModeConfig {
	return ModeConfig{
		Standalone: false,
		Interval:   200 * time.Millisecond,
	}
}

// RunStandaloneMode prints one distance line per interval over USB, for
// bring-up with a plain terminal
func RunStandaloneMode(r *core.Ranger) {
	mode := GetMode()
	for {
		d, err := r.DistanceCM()
		if err != nil {
			USBWriteBytes([]byte("error: " + err.Error() + "\r\n"))
		} else {
			USBWriteBytes([]byte(core.FormatFloat(d) + " cm\r\n"))
		}
		time.Sleep(mode.Interval)
	}
}
