package probe

import (
	"errors"
	"fmt"
)

// Probe errors.
var (
	ErrPayloadMismatch = errors.New("probe payload mismatch")
)

// ProbeError reports a failed read or write on one side of an exchange.
type ProbeError struct {
	// Side is "server" or "client".
	Side string

	// Op is "read" or "write".
	Op string

	Err error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe: %s %s: %v", e.Side, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProbeError) Unwrap() error {
	return e.Err
}
