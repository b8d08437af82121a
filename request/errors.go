package request

import (
	"errors"
	"fmt"
)

// ErrDepthLimitExceeded is matched (errors.Is) by every *DepthError.
var ErrDepthLimitExceeded = errors.New("request: depth limit exceeded")

// ErrInvalidURI is returned for empty or blank request URIs.
var ErrInvalidURI = errors.New("request: invalid uri")

// DepthError reports that a request needed a stage its depth forbids and no
// cache could satisfy it.
type DepthError struct {
	URI   string
	Depth Depth
	// From names who lowered the depth (e.g. "pause-load-when-scrolling"),
	// empty when the caller set it.
	From string
}

func (e *DepthError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("request: depth limit exceeded: depth=%s from=%s uri=%s", e.Depth, e.From, e.URI)
	}
	return fmt.Sprintf("request: depth limit exceeded: depth=%s uri=%s", e.Depth, e.URI)
}

func (e *DepthError) Is(target error) bool { return target == ErrDepthLimitExceeded }

// NewDepthError builds a DepthError from req.
func NewDepthError(req *Request) *DepthError {
	return &DepthError{URI: req.URI(), Depth: req.Depth(), From: req.DepthFrom()}
}

func isDepth(err error) bool { return errors.Is(err, ErrDepthLimitExceeded) }
