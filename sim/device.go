package sim

import (
	"io"

	"ranger/core"
)

// Device is a simulated board running the ranging firmware: the command
// set and a core.Link, with a Board standing in for the sensor and timer.
// Like the firmware it installs process-wide state (HAL, ranger, transport);
// run one Device per process.
type Device struct {
	Board  *Board
	Ranger *core.Ranger
	Link   *core.Link
}

// NewDevice boots a simulated board that writes its responses to w
func NewDevice(h core.Handle, cfg core.Config, w io.Writer) (*Device, error) {
	board := New(h)

	r, err := core.NewRanger(h, cfg,
		core.WithGPIO(board),
		core.WithTimer(core.NewMicroDelay(board)),
		core.WithSleeper(board),
	)
	if err != nil {
		return nil, err
	}
	if err := r.Configure(); err != nil {
		return nil, err
	}

	core.InitRangerCommands()
	core.RegisterConstant("MCU", "sim")
	core.GetGlobalDictionary().BuildDictionary()
	core.SetRanger(r)

	return &Device{
		Board:  board,
		Ranger: r,
		Link:   core.NewLink(w),
	}, nil
}

// Serve runs the firmware main loop on r until it fails
func (d *Device) Serve(r io.Reader) error {
	return d.Link.Serve(r)
}
