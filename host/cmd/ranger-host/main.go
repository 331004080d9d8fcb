package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"ranger/config"
	"ranger/host/mcu"
	"ranger/host/serial"
	"ranger/sim"
)

var (
	configPath = flag.String("config", "", "Sensor configuration file (JSON)")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate (overrides config, ignored for USB CDC)")
	simulate   = flag.Bool("sim", false, "Run against an in-process simulated board")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	fmt.Println("Ranger Host - HC-SR04 ranging over the serial command link")
	fmt.Println("===========================================================")

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mcuConn := mcu.NewMCU()
	mcuConn.CommandTimeout = time.Duration(cfg.Serial.CommandTimeoutMS) * time.Millisecond
	if *verbose {
		mcuConn.Log = os.Stdout
	}

	if *simulate {
		fmt.Println("Starting simulated board...")
		err = connectSim(mcuConn, cfg)
	} else {
		fmt.Printf("Connecting to MCU on %s...\n", cfg.Serial.Device)
		err = mcuConn.ConnectWithConfig(&serial.Config{
			Device:      cfg.Serial.Device,
			Baud:        cfg.Serial.Baud,
			ReadTimeout: cfg.Serial.ReadTimeoutMS,
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer mcuConn.Close()

	fmt.Println("Connected successfully!")

	if err := mcuConn.RetrieveDictionary(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to retrieve dictionary: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		mcuConn.PrintDictionary(os.Stdout)
	}

	sh := &shell{m: mcuConn, cfg: cfg, out: os.Stdout, watchInterval: 200 * time.Millisecond}

	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := sh.exec(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if quit {
			fmt.Println("Goodbye!")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.SensorConfig, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *baud != 0 {
		cfg.Serial.Baud = *baud
	}
	return cfg, nil
}

// simScene is what the simulated sensor sees: an object passing in front
// of it, over and over
var simScene = []float32{300, 240, 180, 120, 60, 45, 60, 120, 180, 240}

// connectSim boots the simulated firmware in this process and connects to it
func connectSim(m *mcu.MCU, cfg *config.SensorConfig) error {
	h, err := cfg.Handle()
	if err != nil {
		return err
	}

	host, devEnd := serial.Pipe()
	dev, err := sim.NewDevice(h, cfg.Core(), devEnd)
	if err != nil {
		return err
	}
	dev.Board.ScriptDistances(cfg.SpeedSound, simScene...)
	dev.Board.SetCycle(true)

	go func() {
		if err := dev.Serve(devEnd); err != nil && *verbose {
			fmt.Printf("simulated board stopped: %v\n", err)
		}
	}()

	m.ConnectPort(host)
	return nil
}
