package decode

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize rejects images of 1×1 pixels or less.
	ErrInvalidSize = errors.New("decode: invalid image size")
	// ErrInBuffer reports that a decode into a reused buffer failed because of
	// the buffer; the decode is retried once with a fresh allocation.
	ErrInBuffer = errors.New("decode: in-buffer unusable")
	// ErrNoFetcher is returned when a decode chain has no fetch registry.
	ErrNoFetcher = errors.New("decode: no fetcher configured")
)

// DecodeError reports malformed data, invalid sizes and codec failures.
type DecodeError struct {
	URI    string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode: %s: %s", e.Reason, e.URI)
	}
	return fmt.Sprintf("decode: %s: %s: %v", e.Reason, e.URI, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
