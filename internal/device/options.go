package device

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// Line speeds used by the device.
const (
	DefaultBaudRate  = 9600   // survey download
	FirmwareBaudRate = 460800 // bootloader
)

var baudRates = map[int]bool{
	1200: true, 2400: true, 4800: true, 9600: true, 19200: true, 38400: true,
	57600: true, 115200: true, 230400: true, 460800: true, 921600: true,
}

// parities maps accepted spellings to the normalized token and serial mode.
var parities = map[string]struct {
	token string
	mode  serial.Parity
}{
	"":     {"N", serial.NoParity},
	"N":    {"N", serial.NoParity},
	"NONE": {"N", serial.NoParity},
	"E":    {"E", serial.EvenParity},
	"EVEN": {"E", serial.EvenParity},
	"O":    {"O", serial.OddParity},
	"ODD":  {"O", serial.OddParity},
}

// PortOptions are the line settings for a serial port, as found under
// [device.serial] in the config file. Zero fields mean 9600 8N1.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" toml:"baud_rate"`
	DataBits int    `json:"data_bits" toml:"data_bits"`
	StopBits int    `json:"stop_bits" toml:"stop_bits"`
	Parity   string `json:"parity" toml:"parity"`
}

// Normalize fills in defaults and rejects settings the port cannot use.
// Parity comes back as one of "N", "E" or "O".
func (o PortOptions) Normalize() (PortOptions, error) {
	if o.BaudRate <= 0 {
		o.BaudRate = DefaultBaudRate
	}
	if o.DataBits == 0 {
		o.DataBits = 8
	}
	if o.StopBits == 0 {
		o.StopBits = 1
	}

	switch {
	case !baudRates[o.BaudRate]:
		return o, fmt.Errorf("unsupported baud rate %d", o.BaudRate)
	case o.DataBits < 5 || o.DataBits > 8:
		return o, fmt.Errorf("data bits must be 5 to 8, got %d", o.DataBits)
	case o.StopBits != 1 && o.StopBits != 2:
		return o, fmt.Errorf("stop bits must be 1 or 2, got %d", o.StopBits)
	}

	p, ok := parities[strings.ToUpper(strings.TrimSpace(o.Parity))]
	if !ok {
		return o, fmt.Errorf("unsupported parity %q, want N, E or O", o.Parity)
	}
	o.Parity = p.token
	return o, nil
}

// WithBaudRate returns a copy of o using rate.
func (o PortOptions) WithBaudRate(rate int) PortOptions {
	o.BaudRate = rate
	return o
}

// SerialMode returns the go.bug.st/serial mode for the normalized options.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	n, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	stop := serial.OneStopBit
	if n.StopBits == 2 {
		stop = serial.TwoStopBits
	}
	return &serial.Mode{
		BaudRate: n.BaudRate,
		DataBits: n.DataBits,
		StopBits: stop,
		Parity:   parities[n.Parity].mode,
	}, nil
}

// Open opens the serial port at path and drops anything the device sent
// before it was opened.
func Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return port, nil
}
