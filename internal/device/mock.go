package device

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

var errPortClosed = errors.New("serial port closed")

// TestableSerialPort is a scripted TimeoutSerialPorter. It stands in for the
// device in download and bootloader tests.
type TestableSerialPort struct {
	mu      sync.Mutex
	pending bytes.Buffer
	written bytes.Buffer

	// Chunks are served one per Read before any fed data. An empty chunk is a
	// read that timed out.
	Chunks  [][]byte
	// OnWrite answers a write; the reply is queued for reading.
	OnWrite func(p []byte) []byte

	// One-shot failures for the next Read or Write.
	ReadError  error
	WriteError error
	// ShortWrite makes Write report one byte fewer than given.
	ShortWrite bool

	Closed      bool
	ReadCalls   int
	Writes      [][]byte
	ReadTimeout time.Duration
}

func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{}
}

// Read returns the next chunk, then fed data. With nothing left it returns
// 0, nil like a serial read hitting its timeout.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	switch {
	case t.Closed:
		return 0, errPortClosed
	case t.ReadError != nil:
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	case len(t.Chunks) > 0:
		n := copy(p, t.Chunks[0])
		if rest := t.Chunks[0][n:]; len(rest) > 0 {
			t.Chunks[0] = rest
		} else {
			t.Chunks = t.Chunks[1:]
		}
		return n, nil
	case t.pending.Len() == 0:
		return 0, nil
	}
	return t.pending.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errPortClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		return 0, err
	}

	t.Writes = append(t.Writes, bytes.Clone(p))
	t.written.Write(p)
	if t.OnWrite != nil {
		t.pending.Write(t.OnWrite(p))
	}
	if t.ShortWrite && len(p) > 0 {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return nil
}

func (t *TestableSerialPort) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = d
	return nil
}

// Feed queues data for later reads.
func (t *TestableSerialPort) Feed(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.Write(data)
}

// Written returns everything written so far.
func (t *TestableSerialPort) Written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return bytes.Clone(t.written.Bytes())
}
