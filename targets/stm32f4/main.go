//go:build stm32f4

package main

import (
	"machine"
	"time"

	"ranger/core"
)

// Sensor wiring: trigger on PA0, echo on PA1
var handle = core.NewHandle(0, 0, 0, 1)

var msgerrors uint32

func main() {
	err := machine.Serial.Configure(machine.UARTConfig{BaudRate: 250000})
	if err != nil {
		return
	}

	core.RegisterConstant("MCU", "stm32f4")
	core.RegisterConstant("CLOCK_FREQ", uint32(1000000))

	core.SetGPIODriver(NewSTM32GPIODriver())
	core.SetTimerBlock(NewTIM6())

	ranger, err := core.NewRanger(handle, core.DefaultConfig())
	if err != nil {
		return
	}
	if err := ranger.Configure(); err != nil {
		return
	}

	core.InitRangerCommands()
	core.SetRanger(ranger)
	core.GetGlobalDictionary().BuildDictionary()

	link := core.NewLink(machine.Serial)

	for {
		// Recover from panics to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					link.Reset()
				}
			}()

			var buf [64]byte
			n := 0
			for n < len(buf) && machine.Serial.Buffered() > 0 {
				b, err := machine.Serial.ReadByte()
				if err != nil {
					break
				}
				buf[n] = b
				n++
			}
			if n > 0 && link.Feed(buf[:n]) < n {
				msgerrors++
			}
			if err := link.Poll(); err != nil {
				msgerrors++
			}
		}()

		time.Sleep(10 * time.Microsecond)
	}
}
