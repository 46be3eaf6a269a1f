package transport

import (
	"net"
	"time"
)

// Conn is the stream contract endpoints fulfil for the layers above.
type Conn interface {
	net.Conn

	// CloseWrite half-closes the write side.
	CloseWrite() error
}

// DeadlineSetter is implemented by anything that supports I/O deadlines.
type DeadlineSetter interface {
	SetDeadline(t time.Time) error
}

// Compile-time interface satisfaction checks.
var (
	_ Conn           = (*Endpoint)(nil)
	_ DeadlineSetter = (*Endpoint)(nil)
)
