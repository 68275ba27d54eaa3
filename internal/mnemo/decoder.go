// Package mnemo decodes the binary survey log downloaded from a mnemo
// cave-survey device.
//
// A log is a flat run of surveys. Each survey is a 10-byte header followed by
// 16-byte shot records, the last of which is normally an EOC shot:
//
//	header: [magic:i8][year-2000:i8][month:i8][day:i8][hour:i8][minute:i8][name:3][direction:i8]
//	shot:   [type:i8][head_in:i16][head_out:i16][length:i16][depth_in:i16][depth_out:i16][pitch_in:i16][pitch_out:i16][marker:i8]
//
// Multi-byte shot fields are big-endian. Decoding is a single forward scan and
// stops at the first header that fails validation; everything decoded before
// that point is kept.
package mnemo

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/banshee-data/mnemo/internal/monitoring"
)

// Record layout constants
const (
	HEADER_SIZE   = 10 // Survey header size in bytes
	SHOT_SIZE     = 16 // Shot record size in bytes
	NAME_SIZE     = 3  // Survey name field size in bytes
	HEADER_MAGIC  = 2  // Leading byte of every survey header
	BASE_YEAR     = 2000
	MIN_YEAR_OFF  = 16    // 2016
	MAX_YEAR_OFF  = 24    // 2024
	DEFAULT_LIMIT = 10000 // Bytes of shot data scanned per survey
)

// Options controls how a Decoder treats malformed input. The zero value
// reproduces the device tool: best effort, raw names, a 10000 byte shot scan
// per survey.
type Options struct {
	// Strict returns the header error that halted decoding instead of only
	// logging it. Surveys decoded before the failure are still returned.
	Strict bool
	// TrimName strips NUL and space padding from survey names.
	TrimName bool
	// ScanLimit bounds how many bytes of shot records are scanned for a
	// single survey. Zero means DEFAULT_LIMIT.
	ScanLimit int
	// AbsoluteScanLimit measures ScanLimit from the start of the buffer
	// rather than from the first shot of each survey. Older tooling did this,
	// which silently drops every shot past offset 10000.
	AbsoluteScanLimit bool
}

func (o Options) scanLimit() int {
	if o.ScanLimit <= 0 {
		return DEFAULT_LIMIT
	}
	return o.ScanLimit
}

// Decoder turns a raw device log into surveys. It holds no state between
// calls and is safe for concurrent use.
type Decoder struct {
	opts Options
}

// NewDecoder creates a decoder with the given options.
func NewDecoder(opts Options) *Decoder {
	return &Decoder{opts: opts}
}

// Decode decodes buf with default options. Header failures are logged and
// never returned.
func Decode(buf []byte) []Survey {
	surveys, _ := NewDecoder(Options{}).Decode(buf)
	return surveys
}

// Decode scans buf from the start and returns every survey it could decode.
// On a header failure the scan stops; in strict mode the *HeaderError is
// returned with the partial result, otherwise it is logged and err is nil.
func (d *Decoder) Decode(buf []byte) ([]Survey, error) {
	surveys := []Survey{}
	x := 0
	for len(buf)-x >= HEADER_SIZE {
		survey, err := d.parseHeader(buf[x:x+HEADER_SIZE], x)
		if err != nil {
			if d.opts.Strict {
				return surveys, err
			}
			monitoring.Logf("%v, stopping", err)
			return surveys, nil
		}
		x += HEADER_SIZE

		var shots []Shot
		shots, x = d.scanShots(buf, x)
		survey.Shots = shots
		surveys = append(surveys, survey)
	}
	return surveys, nil
}

// scanShots reads shot records starting at x until an EOC shot, truncation or
// the scan limit. It returns the shots and the offset following the last one.
func (d *Decoder) scanShots(buf []byte, x int) ([]Shot, int) {
	limit := d.opts.scanLimit()
	if !d.opts.AbsoluteScanLimit {
		limit += x
	}

	shots := []Shot{}
	for x < limit {
		if len(buf)-x < SHOT_SIZE {
			break
		}
		shot := parseShot(buf[x : x+SHOT_SIZE])
		shots = append(shots, shot)
		x += SHOT_SIZE
		if shot.IsEnd() {
			break
		}
	}
	return shots, x
}

// parseHeader validates and unpacks a 10-byte header found at offset.
func (d *Decoder) parseHeader(data []byte, offset int) (Survey, error) {
	if len(data) < HEADER_SIZE {
		return Survey{}, structuralError(offset, ErrShortHeader)
	}
	if int8(data[0]) != HEADER_MAGIC {
		return Survey{}, invariantError(offset, ErrBadMagic)
	}
	yearOff := int(int8(data[1]))
	if yearOff < MIN_YEAR_OFF || yearOff > MAX_YEAR_OFF {
		return Survey{}, invariantError(offset, ErrYearOutOfRange)
	}

	date, ok := deviceDate(
		BASE_YEAR+yearOff,
		int(int8(data[2])),
		int(int8(data[3])),
		int(int8(data[4])),
		int(int8(data[5])),
	)
	if !ok {
		return Survey{}, structuralError(offset, ErrInvalidDate)
	}

	nameBytes := data[6 : 6+NAME_SIZE]
	if !utf8.Valid(nameBytes) {
		return Survey{}, structuralError(offset, ErrInvalidName)
	}
	name := string(nameBytes)
	if d.opts.TrimName {
		name = strings.TrimRight(name, "\x00 ")
	}

	return Survey{
		Date:      DeviceTime{date},
		Name:      name,
		Direction: Direction(int8(data[9])),
	}, nil
}

// deviceDate builds a timestamp and reports false when any field is out of
// calendar range. time.Date normalises overflow, so a mismatch after
// construction means the input was invalid.
func deviceDate(year, month, day, hour, minute int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// parseShot unpacks a 16-byte big-endian shot record.
func parseShot(data []byte) Shot {
	field := func(i int) int16 {
		return int16(binary.BigEndian.Uint16(data[1+2*i : 3+2*i]))
	}
	raw := RawShot{
		HeadIn:   field(0),
		HeadOut:  field(1),
		Length:   field(2),
		DepthIn:  field(3),
		DepthOut: field(4),
		PitchIn:  field(5),
		PitchOut: field(6),
	}
	return NewShot(ShotType(int8(data[0])), raw, int8(data[15]))
}
