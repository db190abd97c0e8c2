package tree

import (
	"errors"
	"fmt"
)

// Sentinel errors for path traversal.
var (
	ErrMissingSegment = errors.New("missing path segment")
	ErrNotContainer   = errors.New("value cannot hold children")
	ErrIndexRange     = errors.New("index out of range")
	ErrNotObject      = errors.New("value is not an object")
)

// PathError records the namespace and segment at which a traversal failed.
type PathError struct {
	Op      string
	Path    string
	Segment string
	Err     error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	if e.Segment == "" {
		return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %q at %q: %v", e.Op, e.Path, e.Segment, e.Err)
}

// Unwrap enables error unwrapping for errors.Is and errors.As.
func (e *PathError) Unwrap() error {
	return e.Err
}
