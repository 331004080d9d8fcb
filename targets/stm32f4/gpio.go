//go:build stm32f4

package main

import (
	"machine"

	"ranger/core"
)

// STM32GPIODriver implements core.GPIODriver. TinyGo numbers STM32 pins
// port*16 + pin, so PA0 is 0 and PB3 is 19.
type STM32GPIODriver struct{}

func NewSTM32GPIODriver() *STM32GPIODriver {
	return &STM32GPIODriver{}
}

func (d *STM32GPIODriver) ConfigureOutput(pin core.Pin) error {
	toMachinePin(pin).Configure(machine.PinConfig{Mode: machine.PinOutput})
	return nil
}

func (d *STM32GPIODriver) ConfigureInput(pin core.Pin) error {
	toMachinePin(pin).Configure(machine.PinConfig{Mode: machine.PinInputFloating})
	return nil
}

func (d *STM32GPIODriver) SetPin(pin core.Pin, level core.Level) error {
	toMachinePin(pin).Set(bool(level))
	return nil
}

func (d *STM32GPIODriver) ReadPin(pin core.Pin) core.Level {
	return core.Level(toMachinePin(pin).Get())
}

func toMachinePin(pin core.Pin) machine.Pin {
	return machine.Pin(uint8(pin.Port)*16 + pin.Num)
}
