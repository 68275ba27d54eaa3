package mnemo

import (
	"fmt"
	"time"
)

// ShotType tags a shot record. EOC closes a survey.
type ShotType int8

const (
	ShotCSA ShotType = 0
	ShotCSB ShotType = 1
	ShotSTD ShotType = 2
	ShotEOC ShotType = 3
)

func (t ShotType) String() string {
	switch t {
	case ShotCSA:
		return "CSA"
	case ShotCSB:
		return "CSB"
	case ShotSTD:
		return "STD"
	case ShotEOC:
		return "EOC"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int8(t))
	}
}

// Direction is the walking direction recorded in a survey header.
type Direction int8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int8(d))
	}
}

// DeviceTimeLayout is the naive ISO-8601 layout used for survey dates. The
// device has no notion of time zones.
const DeviceTimeLayout = "2006-01-02T15:04:05"

// DeviceTime is a wall clock reading from the device, kept in UTC.
type DeviceTime struct {
	time.Time
}

func (t DeviceTime) String() string {
	return t.Format(DeviceTimeLayout)
}

// Equal reports whether both readings denote the same instant.
func (t DeviceTime) Equal(other DeviceTime) bool {
	return t.Time.Equal(other.Time)
}

func (t DeviceTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.Format(DeviceTimeLayout) + `"`), nil
}

func (t *DeviceTime) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid device time %s", b)
	}
	parsed, err := time.Parse(DeviceTimeLayout, string(b[1:len(b)-1]))
	if err != nil {
		return fmt.Errorf("invalid device time: %w", err)
	}
	t.Time = parsed
	return nil
}

// Survey is one measuring session: a header and the shots recorded after it.
type Survey struct {
	Date      DeviceTime `json:"date"`
	Name      string     `json:"name"`
	Direction Direction  `json:"direction"`
	Shots     []Shot     `json:"shots"`
}

// RawShot holds the integer fields of a shot record exactly as stored on the
// device, before scaling.
type RawShot struct {
	HeadIn   int16
	HeadOut  int16
	Length   int16
	DepthIn  int16
	DepthOut int16
	PitchIn  int16
	PitchOut int16
}

// Shot is one measurement within a survey. Headings and pitches are degrees,
// length and depths are metres.
type Shot struct {
	Type     ShotType `json:"type"`
	HeadIn   float64  `json:"head_in"`
	HeadOut  float64  `json:"head_out"`
	Length   float64  `json:"length"`
	DepthIn  float64  `json:"depth_in"`
	DepthOut float64  `json:"depth_out"`
	PitchIn  float64  `json:"pitch_in"`
	PitchOut float64  `json:"pitch_out"`
	Marker   int8     `json:"marker"`

	Raw RawShot `json:"-"`
}

// Fixed-point scale of each stored field.
const (
	HeadingScale = 10.0
	LengthScale  = 100.0
	DepthScale   = 100.0
	PitchScale   = 10.0
)

// NewShot builds a shot from raw device values, applying the fixed-point
// scaling of each field.
func NewShot(typ ShotType, raw RawShot, marker int8) Shot {
	return Shot{
		Type:     typ,
		HeadIn:   float64(raw.HeadIn) / HeadingScale,
		HeadOut:  float64(raw.HeadOut) / HeadingScale,
		Length:   float64(raw.Length) / LengthScale,
		DepthIn:  float64(raw.DepthIn) / DepthScale,
		DepthOut: float64(raw.DepthOut) / DepthScale,
		PitchIn:  float64(raw.PitchIn) / PitchScale,
		PitchOut: float64(raw.PitchOut) / PitchScale,
		Marker:   marker,
		Raw:      raw,
	}
}

// IsEnd reports whether the shot terminates its survey.
func (s Shot) IsEnd() bool {
	return s.Type == ShotEOC
}
