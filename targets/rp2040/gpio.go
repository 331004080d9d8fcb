//go:build rp2040 || rp2350

package main

import (
	"machine"

	"ranger/core"
)

// RPGPIODriver implements core.GPIODriver on the RP2040/RP2350 SIO block
type RPGPIODriver struct {
	// Track configured pins to prevent conflicts
	configuredPins map[core.Pin]machine.Pin
}

// NewRPGPIODriver creates a new GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{
		configuredPins: make(map[core.Pin]machine.Pin),
	}
}

// ConfigureOutput configures a pin as a digital output
func (d *RPGPIODriver) ConfigureOutput(pin core.Pin) error {
	machinePin := pinToMachinePin(pin)
	machinePin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.configuredPins[pin] = machinePin
	return nil
}

// ConfigureInput configures a pin as a floating input; the HC-SR04 drives
// echo push-pull
func (d *RPGPIODriver) ConfigureInput(pin core.Pin) error {
	machinePin := pinToMachinePin(pin)
	machinePin.Configure(machine.PinConfig{Mode: machine.PinInput})
	d.configuredPins[pin] = machinePin
	return nil
}

// SetPin drives the pin; an unconfigured pin is made an output first
func (d *RPGPIODriver) SetPin(pin core.Pin, level core.Level) error {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		if err := d.ConfigureOutput(pin); err != nil {
			return err
		}
		machinePin = d.configuredPins[pin]
	}

	machinePin.Set(bool(level))
	return nil
}

// ReadPin reads the pin level. It runs once per polling tick, so it does
// not consult the map.
func (d *RPGPIODriver) ReadPin(pin core.Pin) core.Level {
	return core.Level(pinToMachinePin(pin).Get())
}

// pinToMachinePin maps a core pin to a GPIO number. The RP parts have a
// single bank, so only the pin number matters.
func pinToMachinePin(pin core.Pin) machine.Pin {
	return machine.Pin(pin.Num)
}
