package harness

import (
	"errors"
	"fmt"

	"github.com/tlsloop/tlsloop-go/pkg/handshake"
)

// Kind classifies run failures. Every kind is terminal; the harness never
// retries.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota
	// KindConfig means settings or certificate material were unusable.
	KindConfig
	// KindTransport means the loopback pair could not be established or
	// its teardown did not complete.
	KindTransport
	// KindProbe means a probe exchange failed or returned the wrong data.
	KindProbe
	// KindHandshake means a TLS engine or decode error.
	KindHandshake
	// KindHandshakeClosed means a session closed before its milestones.
	KindHandshakeClosed
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindProbe:
		return "probe"
	case KindHandshake:
		return "handshake"
	case KindHandshakeClosed:
		return "handshake-closed"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its kind and the stage that failed.
type ClassifiedError struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *ClassifiedError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }
func (e *ClassifiedError) Unwrap() error { return e.Err }

func classified(kind Kind, stage string, err error) error {
	return &ClassifiedError{Kind: kind, Stage: stage, Err: err}
}

// handshakeFailure picks the kind for an error returned by the driver.
func handshakeFailure(err error) error {
	var ce *handshake.HandshakeClosedError
	if errors.As(err, &ce) {
		return classified(KindHandshakeClosed, "handshake", err)
	}
	return classified(KindHandshake, "handshake", err)
}

// KindOf extracts the error kind. Returns KindUnknown for unclassified
// errors.
func KindOf(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}
