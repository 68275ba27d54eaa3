// Package hexfile loads Intel HEX firmware images into a flat memory buffer.
package hexfile

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/mnemo/internal/monitoring"
)

// Record types understood by Load. Others are ignored.
const (
	RECORD_DATA            = 0x00
	RECORD_EOF             = 0x01
	RECORD_EXTENDED_LINEAR = 0x04
)

// DefaultMemorySize is the buffer size used for firmware images.
const DefaultMemorySize = 1024 * 1024

// Image is a firmware image. Bytes not covered by any record read as 0xFF,
// the erased state of flash.
type Image struct {
	Memory []byte
	// End is one past the highest address written by a data record.
	End int
	// Records counts the data records applied.
	Records int
	// Skipped counts lines dropped for bad syntax or checksum.
	Skipped int
}

// Load parses HEX records from r into a memory buffer of size bytes. Lines
// that are malformed or fail their checksum are skipped. Parsing stops at the
// first EOF record. Data beyond size is dropped.
func Load(r io.Reader, size int) (*Image, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid memory size %d", size)
	}
	img := &Image{Memory: make([]byte, size)}
	for i := range img.Memory {
		img.Memory[i] = 0xff
	}

	rd := bufio.NewReaderSize(r, maxLineLength)
	var base uint32
	lineNo := 0
	for {
		line, tooLong, err := readLine(rd)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read hex file: %w", err)
		}
		lineNo++
		if tooLong {
			monitoring.Debugf("hex line %d skipped: longer than %d bytes", lineNo, maxLineLength)
			img.Skipped++
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, err := parseRecord(line)
		if err != nil {
			monitoring.Debugf("hex line %d skipped: %v", lineNo, err)
			img.Skipped++
			continue
		}

		switch rec.kind {
		case RECORD_DATA:
			for i, b := range rec.data {
				addr := base + uint32(rec.addr) + uint32(i)
				if addr >= uint32(size) {
					continue
				}
				img.Memory[addr] = b
				if int(addr)+1 > img.End {
					img.End = int(addr) + 1
				}
			}
			img.Records++
		case RECORD_EOF:
			return img, nil
		case RECORD_EXTENDED_LINEAR:
			if len(rec.data) < 2 {
				img.Skipped++
				continue
			}
			base = (uint32(rec.data[0])<<8 | uint32(rec.data[1])) << 16
		}
	}
	return img, nil
}

// maxLineLength is well above the longest valid record: 255 data bytes
// give 521 characters.
const maxLineLength = 4096

// readLine returns the next line without its terminator. A line that does not
// fit the reader's buffer is consumed and reported as tooLong.
func readLine(rd *bufio.Reader) (line string, tooLong bool, err error) {
	buf, isPrefix, err := rd.ReadLine()
	if err != nil {
		return "", false, err
	}
	if !isPrefix {
		return string(buf), false, nil
	}
	for isPrefix {
		_, isPrefix, err = rd.ReadLine()
		if err != nil && !errors.Is(err, io.EOF) {
			return "", true, err
		}
	}
	return "", true, nil
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string, size int) (*Image, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Load(f, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

type record struct {
	kind byte
	addr uint16
	data []byte
}

// parseRecord decodes ":LLAAAATT<data>CC".
func parseRecord(line string) (record, error) {
	if len(line) < 11 || line[0] != ':' {
		return record{}, errors.New("not a record")
	}
	head, err := hex.DecodeString(line[1:3])
	if err != nil {
		return record{}, errors.New("bad byte count")
	}
	count := int(head[0])
	n := 2 * (5 + count)
	if len(line) < 1+n {
		return record{}, fmt.Errorf("record shorter than byte count %d", count)
	}
	raw, err := hex.DecodeString(line[1 : 1+n])
	if err != nil {
		return record{}, errors.New("bad hex digits")
	}

	var sum byte
	for _, b := range raw {
		sum += b
	}
	if sum != 0 {
		return record{}, errors.New("checksum mismatch")
	}
	return record{
		kind: raw[3],
		addr: uint16(raw[1])<<8 | uint16(raw[2]),
		data: raw[4 : 4+count],
	}, nil
}
