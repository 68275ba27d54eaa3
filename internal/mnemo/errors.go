package mnemo

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a header failure.
type ErrorKind int

const (
	// InvariantViolation means the header bytes were readable but broke a
	// format invariant (magic byte, year range).
	InvariantViolation ErrorKind = iota + 1
	// StructuralParseFailure means the header could not be unpacked into a
	// valid record at all.
	StructuralParseFailure
)

func (k ErrorKind) String() string {
	switch k {
	case InvariantViolation:
		return "invariant violation"
	case StructuralParseFailure:
		return "structural parse failure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

var (
	ErrBadMagic       = errors.New("couldn't find magic number")
	ErrYearOutOfRange = errors.New("year is out of range")
	ErrShortHeader    = errors.New("header truncated")
	ErrInvalidDate    = errors.New("invalid header date")
	ErrInvalidName    = errors.New("survey name is not valid UTF-8")
)

// HeaderError reports the failure that halted a decode.
type HeaderError struct {
	Offset int
	Kind   ErrorKind
	Err    error
}

func (e *HeaderError) Error() string {
	if e.Kind == StructuralParseFailure {
		return fmt.Sprintf("failed to parse header at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("header error at offset %d: %v", e.Offset, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

func invariantError(offset int, err error) *HeaderError {
	return &HeaderError{Offset: offset, Kind: InvariantViolation, Err: err}
}

func structuralError(offset int, err error) *HeaderError {
	return &HeaderError{Offset: offset, Kind: StructuralParseFailure, Err: err}
}
