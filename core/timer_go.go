//go:build !tinygo

package core

var systemTicks uint32

// getSystemTicks returns the delay clock (regular Go implementation)
func getSystemTicks() uint32 {
	return systemTicks
}

// setSystemTicks sets the delay clock (regular Go implementation)
func setSystemTicks(ticks uint32) {
	systemTicks = ticks
}

// addSystemTicks advances the delay clock (regular Go implementation)
func addSystemTicks(us uint32) {
	systemTicks += us
}
