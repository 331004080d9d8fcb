// HC-SR04 ultrasonic ranging
// Drives the trigger line, times the echo pulse in 2 µs polling ticks and
// converts the tick count into a distance.
package core

const (
	SettleMicros       = 2  // trigger held low before the pulse
	TriggerPulseMicros = 10 // datasheet minimum trigger width
)

// Handle identifies the trigger/echo pin pair of one sensor. It is a
// descriptor, not a lock: other code may still drive the same pins.
type Handle struct {
	Trigger Pin
	Echo    Pin
}

// NewHandle binds the four pin identifiers. It touches no hardware.
func NewHandle(trigPort, trigPin, echoPort, echoPin uint8) Handle {
	return Handle{
		Trigger: Pin{Port: trigPort, Num: trigPin},
		Echo:    Pin{Port: echoPort, Num: echoPin},
	}
}

// Ranger performs blocking measurements on one sensor. It holds no lock;
// callers sharing a Ranger, its pins or the delay timer must serialize.
type Ranger struct {
	handle  Handle
	cfg     Config
	gpio    GPIODriver
	delay   OneShotTimer
	sleep   Sleeper
	trigger Trigger

	lastMM int32 // last reading cached by Update
}

// Option overrides one of the collaborators NewRanger takes from the
// registered HAL singletons
type Option func(*Ranger)

func WithGPIO(d GPIODriver) Option    { return func(r *Ranger) { r.gpio = d } }
func WithTimer(t OneShotTimer) Option { return func(r *Ranger) { r.delay = t } }
func WithSleeper(s Sleeper) Option    { return func(r *Ranger) { r.sleep = s } }

// WithTrigger hands trigger pulse generation to a hardware pulser
func WithTrigger(t Trigger) Option { return func(r *Ranger) { r.trigger = t } }

// NewRanger creates a ranging engine for h. Collaborators not supplied as
// options come from SetGPIODriver / SetTimerBlock; a missing one panics.
func NewRanger(h Handle, cfg Config, opts ...Option) (*Ranger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Ranger{handle: h, cfg: cfg}
	for _, opt := range opts {
		opt(r)
	}

	if r.gpio == nil {
		r.gpio = MustGPIO()
	}
	if r.delay == nil {
		r.delay = NewMicroDelay(MustTimer())
	}
	if r.sleep == nil {
		r.sleep = SystemSleeper()
	}

	return r, nil
}

func (r *Ranger) Handle() Handle { return r.handle }
func (r *Ranger) Config() Config { return r.cfg }

// SetConfig replaces calibration and limits between measurements
func (r *Ranger) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.cfg = cfg
	return nil
}

// Configure sets the pin directions and parks the trigger line low. A
// hardware trigger owns its pin, so only echo is touched then.
func (r *Ranger) Configure() error {
	if err := r.gpio.ConfigureInput(r.handle.Echo); err != nil {
		return err
	}
	if r.trigger != nil {
		return nil
	}
	if err := r.gpio.ConfigureOutput(r.handle.Trigger); err != nil {
		return err
	}
	return r.gpio.SetPin(r.handle.Trigger, Low)
}

// Ticks fires the sensor and returns the number of 2 µs ticks the echo
// line stayed high
func (r *Ranger) Ticks() (uint32, error) {
	if err := r.pulseTrigger(); err != nil {
		return 0, err
	}
	RecordTiming(EvtTrigger, GetTime(), 0, 0)

	echo := r.handle.Echo

	// Pulse start
	var polls uint32
	for r.gpio.ReadPin(echo) == Low {
		if r.cfg.EchoRiseLimit != NoLimit && polls == r.cfg.EchoRiseLimit {
			RecordTiming(EvtTimeout, GetTime(), PhaseEchoRise, polls)
			return 0, &TimeoutError{Phase: PhaseEchoRise, Count: polls}
		}
		polls++
	}
	RecordTiming(EvtEchoRise, GetTime(), polls, 0)

	if r.cfg.MaskInterrupts {
		state := disableInterrupts()
		defer restoreInterrupts(state)
	}

	// Pulse width
	var ticks uint32
	for r.gpio.ReadPin(echo) == High {
		if r.cfg.PulseTickLimit != NoLimit && ticks == r.cfg.PulseTickLimit {
			RecordTiming(EvtTimeout, GetTime(), PhaseEchoFall, ticks)
			return 0, &TimeoutError{Phase: PhaseEchoFall, Count: ticks}
		}
		ticks++
		r.delay.StartOneShotWait(TickMicros)
	}
	RecordTiming(EvtEchoFall, GetTime(), ticks, 0)

	return ticks, nil
}

// DistanceCM takes one measurement and returns the distance in centimetres
func (r *Ranger) DistanceCM() (float32, error) {
	ticks, err := r.Ticks()
	if err != nil {
		return 0, err
	}
	return ticksToCM(ticks, r.cfg.SpeedSound), nil
}

// ticksToCM evaluates ticks * 2.8 * speedSound in double precision and
// rounds once, as the original float firmware did
func ticksToCM(ticks uint32, speedSound float32) float32 {
	return float32(float64(ticks) * float64(TickScale) * float64(speedSound))
}

func (r *Ranger) pulseTrigger() error {
	if r.trigger != nil {
		return r.trigger.Pulse(TriggerPulseMicros)
	}

	trig := r.handle.Trigger
	if err := r.gpio.SetPin(trig, Low); err != nil {
		return err
	}
	r.delay.StartOneShotWait(SettleMicros)

	if err := r.gpio.SetPin(trig, High); err != nil {
		return err
	}
	r.delay.StartOneShotWait(TriggerPulseMicros)
	return r.gpio.SetPin(trig, Low)
}
