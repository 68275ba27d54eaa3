// Package bootloader talks to the device's serial bootloader to read, erase,
// program and verify its flash.
//
// Every command starts with a ten byte frame:
//
//	[0x55][cmd][size lo][size hi][unlock 0x55][unlock 0xAA][addr lo][addr mid][addr hi][0]
//
// The bootloader echoes the frame before its reply. Commands that modify
// flash carry the unlock sequence; the others send zeros in its place.
package bootloader

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/mnemo/internal/device"
	"github.com/banshee-data/mnemo/internal/monitoring"
)

// Command codes.
const (
	CMD_GET_VERSION = 0x00
	CMD_FLASH_READ  = 0x01
	CMD_FLASH_WRITE = 0x02
	CMD_FLASH_ERASE = 0x03
	CMD_CHECKSUM    = 0x08
	CMD_RESET       = 0x09
)

// Status codes returned in the last byte of write and erase replies.
const (
	STATUS_SUCCESS       = 0x01
	STATUS_ADDRESS_OOB   = 0xfe
	STATUS_NOT_SUPPORTED = 0xff
)

const (
	FRAME_SIZE        = 10
	VERSION_REPLY     = 26
	AUTOBAUD          = 0x55
	unlockLo          = 0x55
	unlockHi          = 0xaa
	defaultTimeout    = time.Second
	defaultEraseLimit = 5 * time.Second
)

var (
	// ErrTimeout is returned when the bootloader stops answering mid reply.
	ErrTimeout = errors.New("bootloader did not answer in time")
	// ErrCommandFailed is wrapped by StatusError.
	ErrCommandFailed = errors.New("bootloader command failed")
)

// StatusError reports a non-success status byte.
type StatusError struct {
	Command byte
	Status  byte
}

func (e *StatusError) Error() string {
	reason := "unknown status"
	switch e.Status {
	case STATUS_ADDRESS_OOB:
		reason = "address out of bounds"
	case STATUS_NOT_SUPPORTED:
		reason = "not supported"
	}
	return fmt.Sprintf("command 0x%02x: %s (0x%02x)", e.Command, reason, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrCommandFailed }

// Info is the reply to CMD_GET_VERSION.
type Info struct {
	Version       uint16 `json:"version"`
	MaxPacketSize uint16 `json:"max_packet_size"`
	DeviceID      uint16 `json:"device_id"`
	EraseRowSize  uint8  `json:"erase_row_size"`
	WriteLatches  uint8  `json:"write_latches"`
	ConfigWords   uint32 `json:"config_words"`
}

// Client issues bootloader commands over a serial port.
type Client struct {
	port device.SerialPorter

	// Timeout bounds each reply. EraseTimeout replaces it for erase, which
	// takes much longer.
	Timeout      time.Duration
	EraseTimeout time.Duration
}

// NewClient returns a Client using the bootloader's default timeouts.
func NewClient(port device.SerialPorter) *Client {
	return &Client{
		port:         port,
		Timeout:      defaultTimeout,
		EraseTimeout: defaultEraseLimit,
	}
}

// frame builds the command header.
func frame(cmd byte, unlock bool, size uint16, addr uint32) []byte {
	f := []byte{
		AUTOBAUD,
		cmd,
		byte(size),
		byte(size >> 8),
		0, 0,
		byte(addr),
		byte(addr >> 8),
		byte(addr >> 16),
		0,
	}
	if unlock {
		f[4], f[5] = unlockLo, unlockHi
	}
	return f
}

func (c *Client) send(cmd byte, unlock bool, size uint16, addr uint32) error {
	if err := device.WriteAll(c.port, frame(cmd, unlock, size, addr)); err != nil {
		return fmt.Errorf("failed to send command 0x%02x: %w", cmd, err)
	}
	return nil
}

// readReply reads exactly n bytes, failing with ErrTimeout when the port
// stays silent for longer than timeout.
func (c *Client) readReply(n int, timeout time.Duration) ([]byte, error) {
	timed := false
	if tp, ok := c.port.(device.TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(timeout); err != nil {
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}
		timed = true
	}

	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(timeout)
	for got < n {
		m, err := c.port.Read(buf[got:])
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read reply: %w", err)
		}
		if m > 0 {
			got += m
			deadline = time.Now().Add(timeout)
			continue
		}
		if timed || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w (got %d of %d bytes)", ErrTimeout, got, n)
		}
		time.Sleep(time.Millisecond)
	}
	return buf, nil
}

func checkStatus(cmd byte, reply []byte) error {
	if s := reply[len(reply)-1]; s != STATUS_SUCCESS {
		return &StatusError{Command: cmd, Status: s}
	}
	return nil
}

// Info queries the bootloader version and flash geometry.
func (c *Client) Info() (Info, error) {
	if err := c.send(CMD_GET_VERSION, false, 0, 0); err != nil {
		return Info{}, err
	}
	r, err := c.readReply(VERSION_REPLY, c.Timeout)
	if err != nil {
		return Info{}, err
	}
	return parseInfo(r), nil
}

func parseInfo(r []byte) Info {
	return Info{
		Version:       uint16(r[10])<<8 | uint16(r[11]),
		MaxPacketSize: uint16(r[12])<<8 | uint16(r[13]),
		DeviceID:      uint16(r[16])<<8 | uint16(r[17]),
		EraseRowSize:  r[20],
		WriteLatches:  r[21],
		ConfigWords:   uint32(r[22])<<24 | uint32(r[23])<<16 | uint32(r[24])<<8 | uint32(r[25]),
	}
}

// Read returns length bytes of flash starting at addr.
func (c *Client) Read(addr uint32, length uint16) ([]byte, error) {
	if err := c.send(CMD_FLASH_READ, false, length, addr); err != nil {
		return nil, err
	}
	r, err := c.readReply(FRAME_SIZE+int(length), c.Timeout)
	if err != nil {
		return nil, err
	}
	return r[FRAME_SIZE:], nil
}

// Write programs data at addr. The region must have been erased.
func (c *Client) Write(addr uint32, data []byte) error {
	if len(data) > 0xffff {
		return fmt.Errorf("write of %d bytes exceeds one command", len(data))
	}
	if err := c.send(CMD_FLASH_WRITE, true, uint16(len(data)), addr); err != nil {
		return err
	}
	if err := device.WriteAll(c.port, data); err != nil {
		return fmt.Errorf("failed to send write payload: %w", err)
	}
	r, err := c.readReply(FRAME_SIZE+1, c.Timeout)
	if err != nil {
		return err
	}
	return checkStatus(CMD_FLASH_WRITE, r)
}

// Erase clears rows erase rows starting at addr.
func (c *Client) Erase(addr uint32, rows uint16) error {
	if err := c.send(CMD_FLASH_ERASE, true, rows, addr); err != nil {
		return err
	}
	r, err := c.readReply(FRAME_SIZE+1, c.EraseTimeout)
	if err != nil {
		return err
	}
	return checkStatus(CMD_FLASH_ERASE, r)
}

// Checksum asks the bootloader for the checksum of length bytes at addr.
// See Checksum for the algorithm.
func (c *Client) Checksum(addr uint32, length uint16) (uint16, error) {
	if err := c.send(CMD_CHECKSUM, false, length, addr); err != nil {
		return 0, err
	}
	r, err := c.readReply(FRAME_SIZE+2, c.Timeout)
	if err != nil {
		return 0, err
	}
	return uint16(r[FRAME_SIZE])<<8 | uint16(r[FRAME_SIZE+1]), nil
}

// Reset restarts the device into its application. The bootloader does not
// answer.
func (c *Client) Reset() error {
	if err := c.send(CMD_RESET, false, 0, 0); err != nil {
		return err
	}
	monitoring.Debugf("bootloader reset sent")
	return nil
}

// Checksum computes the bootloader's checksum over data: byte pairs summed
// into two 8-bit lanes, the carry out of the first lane feeding the second.
// A trailing odd byte is ignored.
func Checksum(data []byte) uint16 {
	var a, b uint8
	for i := 0; i+1 < len(data); i += 2 {
		sum := uint16(a) + uint16(data[i])
		var carry uint8
		if sum >= 256 {
			carry = 1
		}
		a = uint8(sum)
		b = b + data[i+1] + carry
	}
	return uint16(a)<<8 | uint16(b)
}
