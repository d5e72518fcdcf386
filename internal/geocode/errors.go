package geocode

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("no geocoding result")
	ErrNetwork           = errors.New("geocoding service unreachable")
	ErrMalformedResponse = errors.New("malformed geocoding response")
)

// Error is returned by every Gateway operation. Kind is one of the sentinels
// above, so callers match with errors.Is.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("geocode %s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("geocode %s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}
