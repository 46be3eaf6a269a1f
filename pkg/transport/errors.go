package transport

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	ErrNotLoopback     = errors.New("address is not a loopback address")
	ErrIdleTimeout     = errors.New("endpoint idle timeout")
	ErrEndpointClosed  = errors.New("endpoint closed")
	ErrTLSConfigNeeded = errors.New("TLSConfig is required")
)

// TransportError reports a failure while establishing the pair.
type TransportError struct {
	// Op is the failing operation: "listen", "accept" or "dial".
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
