//go:build rp2040 || rp2350

package pio

import (
	"errors"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

var errNoStateMachine = errors.New("pio: no free state machine")

var (
	// PIO allocation tracking
	// RP2040/RP2350 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
	pioAllocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum     = uint8(0)
	nextSMNum      = uint8(0)
)

// allocatePIO claims the next free state machine, round-robin across blocks
func allocatePIO() (rp2pio.StateMachine, error) {
	for i := 0; i < 8; i++ { // 2 PIO × 4 SM = 8 total
		pioNum := nextPIONum
		smNum := nextSMNum

		// Advance to next slot
		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		if pioAllocations[pioNum][smNum] {
			continue
		}

		block := rp2pio.PIO0
		if pioNum == 1 {
			block = rp2pio.PIO1
		}
		sm := block.StateMachine(smNum)
		if !sm.TryClaim() {
			// Claimed outside this package
			pioAllocations[pioNum][smNum] = true
			continue
		}
		pioAllocations[pioNum][smNum] = true
		return sm, nil
	}

	return rp2pio.StateMachine{}, errNoStateMachine
}
