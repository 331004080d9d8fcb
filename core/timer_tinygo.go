//go:build tinygo

package core

import "sync/atomic"

var systemTicksValue uint32

// getSystemTicks returns the delay clock
func getSystemTicks() uint32 {
	return atomic.LoadUint32(&systemTicksValue)
}

// setSystemTicks sets the delay clock
func setSystemTicks(ticks uint32) {
	atomic.StoreUint32(&systemTicksValue, ticks)
}

// addSystemTicks advances the delay clock; the link goroutine reads it
// while the main loop is measuring
func addSystemTicks(us uint32) {
	atomic.AddUint32(&systemTicksValue, us)
}
