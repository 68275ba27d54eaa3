package mnemo

import (
	"encoding/binary"
	"fmt"
)

// EncodeHeader writes the 10-byte header for s. The name must fit the 3-byte
// name field; shorter names are NUL padded.
func EncodeHeader(s Survey) ([]byte, error) {
	if len(s.Name) > NAME_SIZE {
		return nil, fmt.Errorf("survey name %q longer than %d bytes", s.Name, NAME_SIZE)
	}
	year := s.Date.Year() - BASE_YEAR
	if year < MIN_YEAR_OFF || year > MAX_YEAR_OFF {
		return nil, fmt.Errorf("survey year %d: %w", s.Date.Year(), ErrYearOutOfRange)
	}

	buf := make([]byte, HEADER_SIZE)
	buf[0] = HEADER_MAGIC
	buf[1] = byte(year)
	buf[2] = byte(s.Date.Month())
	buf[3] = byte(s.Date.Day())
	buf[4] = byte(s.Date.Hour())
	buf[5] = byte(s.Date.Minute())
	copy(buf[6:6+NAME_SIZE], s.Name)
	buf[9] = byte(s.Direction)
	return buf, nil
}

// EncodeShot writes the 16-byte record for s from its raw values.
func EncodeShot(s Shot) []byte {
	buf := make([]byte, SHOT_SIZE)
	buf[0] = byte(s.Type)
	for i, v := range []int16{
		s.Raw.HeadIn,
		s.Raw.HeadOut,
		s.Raw.Length,
		s.Raw.DepthIn,
		s.Raw.DepthOut,
		s.Raw.PitchIn,
		s.Raw.PitchOut,
	} {
		binary.BigEndian.PutUint16(buf[1+2*i:3+2*i], uint16(v))
	}
	buf[15] = byte(s.Marker)
	return buf
}

// Encode writes surveys back into the device log format. Decoding the result
// yields the same surveys, except that names shorter than three bytes come
// back NUL padded unless the decoder trims them.
func Encode(surveys []Survey) ([]byte, error) {
	var out []byte
	for i, s := range surveys {
		hdr, err := EncodeHeader(s)
		if err != nil {
			return nil, fmt.Errorf("survey %d: %w", i, err)
		}
		out = append(out, hdr...)
		for _, shot := range s.Shots {
			out = append(out, EncodeShot(shot)...)
		}
	}
	return out, nil
}
