package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/mnemo/internal/monitoring"
)

// Protocol selects how a download is requested from the device.
type Protocol int

const (
	// ProtocolV1 sends a one byte command followed by the host clock.
	ProtocolV1 Protocol = 1
	// ProtocolV2 sends a text command.
	ProtocolV2 Protocol = 2
)

func (p Protocol) String() string {
	switch p {
	case ProtocolV1:
		return "v1"
	case ProtocolV2:
		return "v2"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

const (
	cmdGetData   = 0x43
	cmdGetDataV2 = "getdata\n"
	readChunk    = 1024
)

// DownloadOptions tunes the download loop. Zero values select the device's
// timings.
type DownloadOptions struct {
	// Clock supplies the time sent with a v1 request. Defaults to time.Now.
	Clock func() time.Time
	// CommandDelay separates the v1 command byte from the clock bytes.
	CommandDelay time.Duration
	// RetryDelay is the wait after a read returned nothing.
	RetryDelay time.Duration
	// MaxRetries consecutive empty reads end the download.
	MaxRetries int
	// Progress is called after every chunk with the running byte count.
	Progress func(total int)
}

func (o DownloadOptions) withDefaults() DownloadOptions {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.CommandDelay <= 0 {
		o.CommandDelay = 100 * time.Millisecond
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	return o
}

// clockHeader is the v1 request payload: year-2000, month, day, hour, minute.
func clockHeader(t time.Time) []byte {
	return []byte{
		byte(t.Year() - 2000),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
	}
}

// Request asks the device to start sending its survey memory.
func Request(ctx context.Context, port io.Writer, proto Protocol, opts DownloadOptions) error {
	opts = opts.withDefaults()
	switch proto {
	case ProtocolV1:
		if err := WriteAll(port, []byte{cmdGetData}); err != nil {
			return fmt.Errorf("failed to send download command: %w", err)
		}
		if err := sleep(ctx, opts.CommandDelay); err != nil {
			return err
		}
		if err := WriteAll(port, clockHeader(opts.Clock().Local())); err != nil {
			return fmt.Errorf("failed to send clock: %w", err)
		}
	case ProtocolV2:
		if err := WriteAll(port, []byte(cmdGetDataV2)); err != nil {
			return fmt.Errorf("failed to send download command: %w", err)
		}
	default:
		return fmt.Errorf("unsupported protocol %v", proto)
	}
	return nil
}

// Download requests the survey memory and copies everything the device sends
// to w until the line stays quiet for MaxRetries consecutive reads. It returns
// the number of bytes received.
func Download(ctx context.Context, port SerialPorter, proto Protocol, w io.Writer, opts DownloadOptions) (int, error) {
	opts = opts.withDefaults()

	// With a read timeout each empty read already waited RetryDelay.
	timed := false
	if tp, ok := port.(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(opts.RetryDelay); err != nil {
			return 0, fmt.Errorf("failed to set read timeout: %w", err)
		}
		timed = true
	}

	if err := Request(ctx, port, proto, opts); err != nil {
		return 0, err
	}
	monitoring.Debugf("requested download using protocol %v", proto)

	buf := make([]byte, readChunk)
	total := 0
	retry := 0
	for retry < opts.MaxRetries {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := port.Read(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return total, fmt.Errorf("failed to read from device: %w", err)
		}
		if n <= 0 {
			retry++
			if !timed {
				if err := sleep(ctx, opts.RetryDelay); err != nil {
					return total, err
				}
			}
			continue
		}
		retry = 0

		if _, err := w.Write(buf[:n]); err != nil {
			return total, fmt.Errorf("failed to store downloaded data: %w", err)
		}
		total += n
		monitoring.Debugf("received %d bytes (%d total)", n, total)
		if opts.Progress != nil {
			opts.Progress(total)
		}
	}
	return total, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
