//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"ranger/core"
)

// RP2040/RP2350 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// InitClock registers the MCU constants. The RP timer runs at 1 MHz.
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
	core.RegisterConstant("CLOCK_FREQ", uint32(1000000))
}

// RPTimerBlock emulates an STM32 basic timer on the free-running 1 MHz
// counter: the update flag sets every ARR+1 µs after the last forced update.
type RPTimerBlock struct {
	arr     uint32
	start   uint32
	uif     bool
	enabled bool
}

// NewRPTimerBlock creates the delay timer
func NewRPTimerBlock() *RPTimerBlock {
	return &RPTimerBlock{}
}

func (t *RPTimerBlock) SetAutoReload(value uint32) { t.arr = value }

// GenerateUpdate restarts the period and, like EGR.UG, sets the flag
func (t *RPTimerBlock) GenerateUpdate() {
	t.start = timerRAWL.Get()
	t.uif = true
}

func (t *RPTimerBlock) UpdatePending() bool {
	if t.enabled && timerRAWL.Get()-t.start > t.arr {
		t.start += t.arr + 1
		t.uif = true
	}
	return t.uif
}

func (t *RPTimerBlock) ClearUpdate() { t.uif = false }

func (t *RPTimerBlock) Enable() { t.enabled = true }
