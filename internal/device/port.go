package device

import (
	"errors"
	"io"
	"time"
)

// ErrWriteFailed is returned when the port accepted fewer bytes than written.
var ErrWriteFailed = errors.New("failed to write to serial port")

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// go.bug.st/serial ports implement it; the download and bootloader code use it
// to bound each read.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens a serial port at path. Commands take an Opener so tests can
// substitute a scripted port.
type Opener func(path string, opts PortOptions) (SerialPorter, error)

// WriteAll writes p to port and fails on a short write.
func WriteAll(port io.Writer, p []byte) error {
	n, err := port.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return ErrWriteFailed
	}
	return nil
}
