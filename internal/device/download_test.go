package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDownload_V1(t *testing.T) {
	port := NewTestableSerialPort()
	port.Chunks = [][]byte{{2, 20, 5}, {}, {15, 0xff}}

	clock := time.Date(2021, time.March, 4, 5, 6, 7, 0, time.Local)
	var out bytes.Buffer
	var progress []int
	n, err := Download(context.Background(), port, ProtocolV1, &out, DownloadOptions{
		Clock:        func() time.Time { return clock },
		CommandDelay: time.Millisecond,
		Progress:     func(total int) { progress = append(progress, total) },
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != 5 {
		t.Errorf("Download() = %d bytes, want 5", n)
	}
	if diff := cmp.Diff([]byte{2, 20, 5, 15, 0xff}, out.Bytes()); diff != "" {
		t.Errorf("downloaded data mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{{0x43}, {21, 3, 4, 5, 6}}, port.Writes); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 5}, progress); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
	// three scripted reads, then five quiet reads end the transfer
	if port.ReadCalls != 8 {
		t.Errorf("ReadCalls = %d, want 8", port.ReadCalls)
	}
	if port.ReadTimeout != 100*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 100ms", port.ReadTimeout)
	}
}

func TestDownload_V2(t *testing.T) {
	port := NewTestableSerialPort()
	port.Feed([]byte{1, 2, 3})

	var out bytes.Buffer
	n, err := Download(context.Background(), port, ProtocolV2, &out, DownloadOptions{MaxRetries: 1})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Download() = %d bytes, want 3", n)
	}
	if got := string(port.Written()); got != "getdata\n" {
		t.Errorf("request = %q, want %q", got, "getdata\n")
	}
}

func TestDownload_ReadErrorStops(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("device unplugged")

	_, err := Download(context.Background(), port, ProtocolV2, io.Discard, DownloadOptions{})
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("device unplugged")) {
		t.Fatalf("expected read error, got %v", err)
	}
}

func TestDownload_ShortWrite(t *testing.T) {
	port := NewTestableSerialPort()
	port.ShortWrite = true

	_, err := Download(context.Background(), port, ProtocolV2, io.Discard, DownloadOptions{})
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("error = %v, want %v", err, ErrWriteFailed)
	}
}

func TestDownload_UnsupportedProtocol(t *testing.T) {
	port := NewTestableSerialPort()
	if _, err := Download(context.Background(), port, Protocol(7), io.Discard, DownloadOptions{}); err == nil {
		t.Fatal("expected error for unsupported protocol")
	}
	if len(port.Writes) != 0 {
		t.Errorf("nothing should be written, got %v", port.Writes)
	}
}

func TestDownload_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	port := NewTestableSerialPort()
	port.Feed([]byte{1})
	n, err := Download(ctx, port, ProtocolV2, io.Discard, DownloadOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if n != 0 {
		t.Errorf("expected no data after cancellation, got %d", n)
	}
}

// plainPort has no read timeout support, so the loop sleeps between reads.
type plainPort struct {
	bytes.Buffer
	reads int
}

func (p *plainPort) Read(b []byte) (int, error) {
	p.reads++
	return 0, io.EOF
}

func (p *plainPort) Close() error { return nil }

func TestDownload_SleepsWithoutReadTimeout(t *testing.T) {
	port := &plainPort{}
	start := time.Now()
	n, err := Download(context.Background(), port, ProtocolV2, io.Discard, DownloadOptions{
		RetryDelay: 5 * time.Millisecond,
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != 0 || port.reads != 3 {
		t.Errorf("got %d bytes in %d reads, want 0 in 3", n, port.reads)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("expected retries to wait, finished in %v", elapsed)
	}
}

func TestClockHeader(t *testing.T) {
	got := clockHeader(time.Date(2024, time.December, 31, 23, 59, 0, 0, time.UTC))
	if diff := cmp.Diff([]byte{24, 12, 31, 23, 59}, got); diff != "" {
		t.Errorf("clockHeader mismatch (-want +got):\n%s", diff)
	}
}
