package core

// Level is the logical state of a digital line
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// Pin identifies a digital line by port and pin number (e.g. PA5 = {0, 5})
type Pin struct {
	Port uint8
	Num  uint8
}

// String returns the STM32-style name of the pin ("PA5")
func (p Pin) String() string {
	return "P" + string(rune('A'+p.Port)) + itoa(int(p.Num))
}

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a push-pull digital output
	ConfigureOutput(pin Pin) error

	// ConfigureInput configures a pin as a floating digital input
	ConfigureInput(pin Pin) error

	// SetPin drives the pin to the given level
	SetPin(pin Pin, level Level) error

	// ReadPin reads the current pin level
	ReadPin(pin Pin) Level
}

// Global singleton used by core code.
var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}
