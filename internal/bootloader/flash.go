package bootloader

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/mnemo/internal/monitoring"
)

// Application flash layout.
const (
	FLASH_START  = 0x800   // first byte after the bootloader
	FLASH_END    = 0x20000 // one past the last flash byte
	WRITE_BLOCK  = 0x80
	VERIFY_CHUNK = 0xFFF0
	APP_MARKER   = 0x55 // stored in the last flash byte; marks a valid application
)

// ErrVerify is returned when the device checksum disagrees with the image.
var ErrVerify = errors.New("flash verification failed")

// Stage names a step of Flash.
type Stage int

const (
	StageErase Stage = iota
	StageWrite
	StageVerify
	StageReset
)

func (s Stage) String() string {
	switch s {
	case StageErase:
		return "erase"
	case StageWrite:
		return "write"
	case StageVerify:
		return "verify"
	case StageReset:
		return "reset"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Progress is reported while flashing. Done and Total count bytes of the
// current stage.
type Progress struct {
	Stage Stage
	Addr  uint32
	Done  int
	Total int
}

// Flasher is the subset of Client used by Flash.
type Flasher interface {
	Info() (Info, error)
	Erase(addr uint32, rows uint16) error
	Write(addr uint32, data []byte) error
	Checksum(addr uint32, length uint16) (uint16, error)
	Reset() error
}

// Flash erases the application area, programs memory into it, verifies it by
// checksum and restarts the device. memory is indexed by flash address and
// must cover FLASH_END bytes; it is not modified.
func Flash(ctx context.Context, c Flasher, memory []byte, progress func(Progress)) (Info, error) {
	if len(memory) < FLASH_END {
		return Info{}, fmt.Errorf("image of %d bytes does not cover flash (0x%x bytes)", len(memory), FLASH_END)
	}
	report := func(p Progress) {
		if progress != nil {
			progress(p)
		}
	}

	info, err := c.Info()
	if err != nil {
		return info, fmt.Errorf("failed to query bootloader: %w", err)
	}
	monitoring.Logf("bootloader version %x, device id %04x, erase row %d bytes",
		info.Version, info.DeviceID, info.EraseRowSize)
	if info.EraseRowSize == 0 {
		return info, errors.New("bootloader reported an erase row size of 0")
	}

	total := FLASH_END - FLASH_START
	rows := total / int(info.EraseRowSize)
	if rows > math.MaxUint16 {
		return info, fmt.Errorf("erase row size %d needs %d rows, more than one erase command can clear", info.EraseRowSize, rows)
	}
	report(Progress{Stage: StageErase, Addr: FLASH_START, Total: total})
	if err := c.Erase(FLASH_START, uint16(rows)); err != nil {
		return info, fmt.Errorf("failed to erase %d rows: %w", rows, err)
	}
	report(Progress{Stage: StageErase, Addr: FLASH_START, Done: total, Total: total})

	image := make([]byte, FLASH_END)
	copy(image, memory)
	image[FLASH_END-1] = APP_MARKER

	for addr := FLASH_START; addr < FLASH_END; addr += WRITE_BLOCK {
		if err := ctx.Err(); err != nil {
			return info, err
		}
		report(Progress{Stage: StageWrite, Addr: uint32(addr), Done: addr - FLASH_START, Total: total})
		if err := c.Write(uint32(addr), image[addr:addr+WRITE_BLOCK]); err != nil {
			return info, fmt.Errorf("failed to write 0x%06x: %w", addr, err)
		}
	}
	report(Progress{Stage: StageWrite, Addr: FLASH_END, Done: total, Total: total})

	// The last two bytes are left out of verification.
	verifyEnd := FLASH_END - 2
	for addr := FLASH_START; addr < verifyEnd; addr += VERIFY_CHUNK {
		if err := ctx.Err(); err != nil {
			return info, err
		}
		size := min(VERIFY_CHUNK, verifyEnd-addr)
		report(Progress{Stage: StageVerify, Addr: uint32(addr), Done: addr - FLASH_START, Total: verifyEnd - FLASH_START})
		got, err := c.Checksum(uint32(addr), uint16(size))
		if err != nil {
			return info, fmt.Errorf("failed to read checksum at 0x%06x: %w", addr, err)
		}
		if want := Checksum(image[addr : addr+size]); got != want {
			return info, fmt.Errorf("%w at 0x%06x: device 0x%04x, image 0x%04x", ErrVerify, addr, got, want)
		}
	}
	report(Progress{Stage: StageVerify, Addr: uint32(verifyEnd), Done: verifyEnd - FLASH_START, Total: verifyEnd - FLASH_START})

	report(Progress{Stage: StageReset})
	if err := c.Reset(); err != nil {
		return info, fmt.Errorf("failed to restart device: %w", err)
	}
	return info, nil
}
