package core

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMalformedVector is returned when a vector does not carry a valid codeword.
	ErrMalformedVector = errors.New("malformed vector")

	// ErrInvalidParams wraps every construction-time configuration failure.
	ErrInvalidParams = errors.New("invalid parameters")
)

// TransportError wraps a failure reported by the broadcast medium.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
