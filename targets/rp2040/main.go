//go:build rp2040 || rp2350

package main

import (
	"machine"
	"time"

	"ranger/core"
	"ranger/targets/pio"
)

// Sensor wiring
const (
	triggerGPIO = 2
	echoGPIO    = 3
)

var (
	link   *core.Link
	ranger *core.Ranger

	// Debug counters
	msgerrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	// Initialize USB CDC immediately
	InitUSB()
	InitDebugUART()
	InitClock()

	core.SetGPIODriver(NewRPGPIODriver())
	core.SetTimerBlock(NewRPTimerBlock())

	h := core.NewHandle(0, triggerGPIO, 0, echoGPIO)

	// Prefer the PIO pulser for the trigger; bit-bang it if no state
	// machine is free
	var opts []core.Option
	trig, err := pio.NewTrigger(machine.Pin(triggerGPIO))
	if err != nil {
		core.DebugPrintln("[main] PIO trigger unavailable: " + err.Error())
	} else {
		opts = append(opts, core.WithTrigger(trig))
	}

	ranger, err = core.NewRanger(h, core.DefaultConfig(), opts...)
	if err != nil {
		fatalBlink()
	}
	if err := ranger.Configure(); err != nil {
		fatalBlink()
	}

	if GetMode().Standalone {
		RunStandaloneMode(ranger)
		return
	}

	core.InitRangerCommands()
	core.SetRanger(ranger)

	// Build and cache dictionary after all commands registered
	core.GetGlobalDictionary().BuildDictionary()

	link = core.NewLink(usbWriter{})

	// Start USB reader goroutine
	go usbReaderLoop()

	// Main loop
	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					link.Reset()
				}
			}()

			if err := link.Poll(); err != nil {
				consecutiveWriteFailures++
				// After several failures, mark as disconnected and drop state
				if consecutiveWriteFailures > 10 {
					usbWasDisconnected = true
					consecutiveWriteFailures = 0
					link.Reset()
				}
			} else {
				consecutiveWriteFailures = 0
			}
		}()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

// usbReaderLoop runs in a goroutine to continuously read USB data
func usbReaderLoop() {
	// Recover from panics to prevent a firmware crash
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			// Restart the reader loop
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	var buf [64]byte
	for {
		n := 0
		for n < len(buf) && USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				msgerrors++
				break
			}
			buf[n] = b
			n++
		}

		if n > 0 {
			// Fresh connection after a disconnect starts from a clean link
			if usbWasDisconnected {
				usbWasDisconnected = false
				link.Reset()
			}
			if link.Feed(buf[:n]) < n {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}

		// Yield to avoid a busy loop
		time.Sleep(100 * time.Microsecond)
	}
}

// usbWriter adapts the USB CDC port to io.Writer for the link
type usbWriter struct{}

func (usbWriter) Write(p []byte) (int, error) {
	return USBWriteBytes(p)
}

// fatalBlink flashes the LED forever to report a setup failure
func fatalBlink() {
	led := machine.LED
	led.Configure(machine.PinConfig{Mode: machine.PinOutput})
	for {
		led.High()
		time.Sleep(100 * time.Millisecond)
		led.Low()
		time.Sleep(100 * time.Millisecond)
	}
}
