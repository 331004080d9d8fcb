package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/shlex"

	"ranger/config"
	"ranger/core"
	"ranger/host/mcu"
)

var errUsage = errors.New("usage")

// shell runs one interactive command line against a connected board
type shell struct {
	m   *mcu.MCU
	cfg *config.SensorConfig
	out io.Writer

	// watchInterval is the pause between watch readings
	watchInterval time.Duration
}

var units = map[string]uint8{
	"cm": core.UnitCM,
	"m":  core.UnitM,
	"mm": core.UnitMM,
}

func (s *shell) exec(line string) (quit bool, err error) {
	parts, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse %q: %w", line, err)
	}
	if len(parts) == 0 {
		return false, nil
	}
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		s.printHelp()

	case "dict":
		s.m.PrintDictionary(s.out)

	case "raw":
		raw := s.m.GetDictionaryRaw()
		fmt.Fprintf(s.out, "Raw dictionary data (%d bytes):\n%s\n", len(raw), string(raw))

	case "distance", "d":
		err = s.distance(args)

	case "speed":
		err = s.speed(args)

	case "cross":
		err = s.cross(args)

	case "range":
		err = s.inRange(args)

	case "config":
		err = s.showConfig()

	case "push":
		err = s.push()

	case "watch":
		err = s.watch(args)

	case "timing":
		err = s.timing()

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for available commands)\n", cmd)
	}

	if errors.Is(err, errUsage) {
		fmt.Fprintf(s.out, "%v (type 'help')\n", err)
		err = nil
	}
	return false, err
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, "\nAvailable commands:")
	fmt.Fprintln(s.out, "  distance [cm|m|mm]          - Take one reading (default cm)")
	fmt.Fprintln(s.out, "  speed <seconds>             - Radial speed from two readings, m/s")
	fmt.Fprintln(s.out, "  cross <distance> <cm>       - Speed of an object passing the threshold")
	fmt.Fprintln(s.out, "  range <lower> <upper>       - Is the target within [lower, upper] cm")
	fmt.Fprintln(s.out, "  watch <n>                   - Print n readings")
	fmt.Fprintln(s.out, "  config                      - Show the board's calibration and limits")
	fmt.Fprintln(s.out, "  push                        - Send the local configuration to the board")
	fmt.Fprintln(s.out, "  timing                      - Dump the board's timing ring")
	fmt.Fprintln(s.out, "  dict / raw                  - Print the command dictionary")
	fmt.Fprintln(s.out, "  quit/exit/q                 - Exit the program")
	fmt.Fprintln(s.out)
}

func parseFloats(args []string, n int, usage string) ([]float32, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%w: %s", errUsage, usage)
	}
	out := make([]float32, n)
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: bad number %q", errUsage, usage, a)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func (s *shell) distance(args []string) error {
	unit := "cm"
	if len(args) > 0 {
		unit = args[0]
	}
	code, ok := units[unit]
	if !ok {
		return fmt.Errorf("%w: distance [cm|m|mm]", errUsage)
	}

	d, err := s.m.MeasureDistance(code)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "distance: %.3f %s\n", d, unit)
	return nil
}

func (s *shell) speed(args []string) error {
	v, err := parseFloats(args, 1, "speed <seconds>")
	if err != nil {
		return err
	}
	if v[0] <= 0 {
		return fmt.Errorf("%w: speed <seconds>: interval must be positive", errUsage)
	}

	speed, err := s.m.ForwardSpeed(time.Duration(float64(v[0]) * float64(time.Second)))
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "speed: %+.3f m/s\n", speed)
	return nil
}

func (s *shell) cross(args []string) error {
	v, err := parseFloats(args, 2, "cross <distance> <threshold cm>")
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "waiting for an object to pass %.1f cm...\n", v[1])
	speed, err := s.m.CrossSpeed(v[0], v[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "cross speed: %.4f\n", speed)
	return nil
}

func (s *shell) inRange(args []string) error {
	v, err := parseFloats(args, 2, "range <lower> <upper>")
	if err != nil {
		return err
	}

	inside, err := s.m.WithinRange(v[0], v[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "in range [%.1f, %.1f]: %v\n", v[0], v[1], inside)
	return nil
}

func (s *shell) showConfig() error {
	cfg, err := s.m.GetConfig()
	if err != nil {
		return err
	}
	printConfig(s.out, cfg)
	return nil
}

func (s *shell) push() error {
	cfg, err := s.m.SetConfig(s.cfg.Core())
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, "config pushed")
	printConfig(s.out, cfg)
	return nil
}

func printConfig(w io.Writer, cfg core.Config) {
	fmt.Fprintf(w, "  speed_sound      %g\n", cfg.SpeedSound)
	fmt.Fprintf(w, "  echo_rise_limit  %s\n", limit(cfg.EchoRiseLimit))
	fmt.Fprintf(w, "  pulse_tick_limit %s\n", limit(cfg.PulseTickLimit))
	fmt.Fprintf(w, "  cross_poll_limit %s\n", limit(cfg.CrossPollLimit))
	fmt.Fprintf(w, "  mask_interrupts  %v\n", cfg.MaskInterrupts)
}

func limit(v uint32) string {
	if v == core.NoLimit {
		return "none"
	}
	return strconv.FormatUint(uint64(v), 10)
}

func (s *shell) watch(args []string) error {
	n := 10
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return fmt.Errorf("%w: watch <n>", errUsage)
		}
		n = v
	}

	for i := 0; i < n; i++ {
		if i > 0 && s.watchInterval > 0 {
			time.Sleep(s.watchInterval)
		}
		d, err := s.m.MeasureDistance(core.UnitCM)
		if err != nil {
			// Keep watching through missed echoes
			fmt.Fprintf(s.out, "%3d  %v\n", i, err)
			continue
		}
		fmt.Fprintf(s.out, "%3d  %8.2f cm\n", i, d)
	}
	return nil
}

func (s *shell) timing() error {
	events, err := s.m.TimingEvents()
	if err != nil {
		return err
	}
	for _, evt := range events {
		fmt.Fprintf(s.out, "%-10s clock=%d v1=%d v2=%d\n", core.TimingEventName(evt.EventType), evt.Clock, evt.Value1, evt.Value2)
	}
	return nil
}
