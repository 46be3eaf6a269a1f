package handshake

import (
	"errors"
	"fmt"
)

// Handshake errors.
var (
	ErrDecode           = errors.New("handshake record decode failed")
	ErrUnsupportedSuite = errors.New("unsupported cipher suite")
	ErrSessionClosed    = errors.New("session closed")
)

// HandshakeError reports that the TLS engine (or the record observer)
// failed a session's handshake.
type HandshakeError struct {
	Role  Role
	Cause error
}

// Error implements the error interface.
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s handshake failed: %v", e.Role, e.Cause)
}

// Unwrap returns the cause.
func (e *HandshakeError) Unwrap() error {
	return e.Cause
}

// HandshakeClosedError reports that a session closed before its handshake
// completed.
type HandshakeClosedError struct {
	Role Role
}

// Error implements the error interface.
func (e *HandshakeClosedError) Error() string {
	return fmt.Sprintf("%s session closed before handshake completed", e.Role)
}

// Is lets errors.Is match ErrSessionClosed.
func (e *HandshakeClosedError) Is(target error) bool {
	return target == ErrSessionClosed
}
