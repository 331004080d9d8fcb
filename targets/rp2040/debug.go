//go:build rp2040 || rp2350

package main

import (
	"machine"

	"ranger/core"
)

var debugUART *machine.UART

// InitDebugUART routes core debug output to UART1 on GPIO8 (TX) and
// GPIO9 (RX) at 115200 baud. USB stays reserved for the command link.
func InitDebugUART() {
	debugUART = machine.UART1

	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO8,
		RX:       machine.GPIO9,
	})
	if err != nil {
		debugUART = nil
		return
	}

	core.SetDebugWriter(DebugPrintln)
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
	DebugPrintln("=== Ranger debug UART initialized ===")
}

// DebugPrintln writes a string to the debug UART with newline
func DebugPrintln(s string) {
	if debugUART == nil {
		return
	}
	debugUART.Write([]byte(s))
	debugUART.Write([]byte("\r\n"))
}
