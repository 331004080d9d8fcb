//go:build rp2040 || rp2350

// Package pio generates the ranging trigger pulse on an RP2040/RP2350 PIO
// state machine, so the pulse width does not depend on CPU timing.
package pio

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"ranger/core"
)

var errShortPulse = errors.New("pio: trigger pulse under 2 µs")

// buildTriggerProgram creates the pulse program. The state machine runs
// at 1 MHz, so every instruction is one microsecond.
//
// Program flow:
//  1. Pull the pulse width minus 2 from the FIFO into X
//  2. Raise the pin (1 cycle)
//  3. Loop X+1 times
//  4. Drop the pin
func buildTriggerProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestX, 32).Encode(),   // 1: out x, 32
		asm.Set(rp2pio.SetDestPins, 1).Encode(), // 2: set pins, 1
		// hold:
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Encode(), // 3: jmp x--, 3
		asm.Set(rp2pio.SetDestPins, 0).Encode(),  // 4: set pins, 0
		// .wrap
	}
}

const triggerPIOOrigin = 0 // Load at offset 0 for correct jump addresses

// Trigger implements core.Trigger on a PIO state machine
type Trigger struct {
	sm  rp2pio.StateMachine
	pin machine.Pin
}

var _ core.Trigger = (*Trigger)(nil)

// NewTrigger claims a state machine and hands pin over to it. The pin is
// left low.
func NewTrigger(pin machine.Pin) (*Trigger, error) {
	sm, err := allocatePIO()
	if err != nil {
		return nil, err
	}

	block := sm.PIO()
	program := buildTriggerProgram()
	offset, err := block.AddProgram(program, triggerPIOOrigin)
	if err != nil {
		return nil, err
	}

	pin.Configure(machine.PinConfig{Mode: block.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(pin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset, offset+uint8(len(program))-1)

	// One instruction per microsecond
	whole := uint16(machine.CPUFrequency() / 1000000)
	cfg.SetClkDivIntFrac(whole, 0)

	// Initialize first, then set pin direction and level
	sm.Init(offset, cfg)
	sm.SetPindirsConsecutive(pin, 1, true)
	sm.SetPinsConsecutive(pin, 1, false)
	sm.SetEnabled(true)

	return &Trigger{sm: sm, pin: pin}, nil
}

// Pulse queues one pulse of widthUS and returns once the state machine
// has taken it. The echo cannot rise before the pulse ends, so the caller
// may start polling right away.
func (t *Trigger) Pulse(widthUS uint32) error {
	if widthUS < 2 {
		return errShortPulse
	}

	for t.sm.IsTxFIFOFull() {
		// Busy wait - a previous pulse is still queued
	}
	t.sm.TxPut(widthUS - 2)
	for !t.sm.IsTxFIFOEmpty() {
	}
	return nil
}
