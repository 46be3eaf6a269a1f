package transport

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Side identifies which end of the pair an endpoint is.
type Side int

const (
	// SidePassive is the accepted (server-side) endpoint.
	SidePassive Side = iota

	// SideActive is the dialed (client-side) endpoint.
	SideActive
)

// String returns the side name.
func (s Side) String() string {
	switch s {
	case SidePassive:
		return "passive"
	case SideActive:
		return "active"
	default:
		return "unknown"
	}
}

// EndpointState is the lifecycle state of an Endpoint.
type EndpointState int32

const (
	// StateConnecting indicates the connection is being set up.
	StateConnecting EndpointState = iota

	// StateConnected indicates an open byte stream.
	StateConnected

	// StateClosed indicates a clean close or end of stream.
	StateClosed

	// StateErrored indicates the endpoint was closed by an error.
	StateErrored
)

// String returns the endpoint state name.
func (s EndpointState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// halfCloser is implemented by *net.TCPConn.
type halfCloser interface {
	CloseWrite() error
}

// Endpoint is one side of a connected byte stream.
// It has a single owner; Read and Write may be called from different
// goroutines, as with any net.Conn.
type Endpoint struct {
	id     string
	side   Side
	conn   net.Conn
	logger *slog.Logger

	state atomic.Int32

	mu        sync.Mutex
	err       error
	hooks     []func(reason error)
	closeOnce sync.Once
	done      chan struct{}

	idle     time.Duration
	idleTime *clock.Timer
}

// endpointOptions configures newEndpoint.
type endpointOptions struct {
	idleTimeout time.Duration
	clock       clock.Clock
	logger      *slog.Logger
}

func newEndpoint(conn net.Conn, side Side, opts endpointOptions) *Endpoint {
	if opts.logger == nil {
		opts.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.clock == nil {
		opts.clock = clock.New()
	}

	e := &Endpoint{
		id:   uuid.New().String(),
		side: side,
		conn: conn,
		done: make(chan struct{}),
		idle: opts.idleTimeout,
	}
	e.logger = opts.logger.With(slog.String("endpoint", e.id), slog.String("side", side.String()))
	e.state.Store(int32(StateConnected))

	if e.idle > 0 {
		e.idleTime = opts.clock.AfterFunc(e.idle, func() {
			e.logger.Debug("idle timeout expired", slog.Duration("timeout", e.idle))
			e.closeWith(ErrIdleTimeout)
		})
	}
	return e
}

// ID returns the endpoint's unique identifier.
func (e *Endpoint) ID() string {
	return e.id
}

// Side returns which end of the pair this is.
func (e *Endpoint) Side() Side {
	return e.side
}

// State returns the current lifecycle state.
func (e *Endpoint) State() EndpointState {
	return EndpointState(e.state.Load())
}

// IsClosed reports whether the endpoint is closed, cleanly or not.
func (e *Endpoint) IsClosed() bool {
	s := e.State()
	return s == StateClosed || s == StateErrored
}

// Done returns a channel closed once the endpoint is closed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Err returns the close reason. Nil while open and after a clean close.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// OnClose registers fn to run once after the endpoint closes. If the
// endpoint is already closed, fn runs immediately.
func (e *Endpoint) OnClose(fn func(reason error)) {
	e.mu.Lock()
	if !e.IsClosed() {
		e.hooks = append(e.hooks, fn)
		e.mu.Unlock()
		return
	}
	reason := e.err
	e.mu.Unlock()
	fn(reason)
}

// Read reads from the stream. End of stream half-closes the write side
// and closes the endpoint before io.EOF is returned.
func (e *Endpoint) Read(p []byte) (int, error) {
	n, err := e.conn.Read(p)
	if n > 0 {
		e.touch()
	}
	if err == nil {
		return n, nil
	}

	if errors.Is(err, io.EOF) {
		e.logger.Debug("end of stream")
		e.endOfStream()
		return n, io.EOF
	}
	return n, e.ioError(err)
}

// Write writes to the stream.
func (e *Endpoint) Write(p []byte) (int, error) {
	n, err := e.conn.Write(p)
	if n > 0 {
		e.touch()
	}
	if err != nil {
		return n, e.ioError(err)
	}
	return n, nil
}

// CloseWrite half-closes the write side.
func (e *Endpoint) CloseWrite() error {
	if hc, ok := e.conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}

// Close closes the endpoint. It is idempotent.
func (e *Endpoint) Close() error {
	e.closeWith(nil)
	return nil
}

// LocalAddr returns the local network address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (e *Endpoint) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}

// SetDeadline sets the read and write deadlines.
func (e *Endpoint) SetDeadline(t time.Time) error {
	return e.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	return e.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (e *Endpoint) SetWriteDeadline(t time.Time) error {
	return e.conn.SetWriteDeadline(t)
}

// touch pushes the idle deadline forward.
func (e *Endpoint) touch() {
	if e.idleTime != nil && !e.IsClosed() {
		e.idleTime.Reset(e.idle)
	}
}

// endOfStream propagates closure symmetrically.
func (e *Endpoint) endOfStream() {
	if e.IsClosed() {
		return
	}
	_ = e.CloseWrite()
	e.closeWith(nil)
}

// ioError maps an I/O error to the endpoint's close reason when the error
// was caused by closing the endpoint.
func (e *Endpoint) ioError(err error) error {
	if e.IsClosed() {
		if reason := e.Err(); reason != nil {
			return reason
		}
		if errors.Is(err, net.ErrClosed) {
			return ErrEndpointClosed
		}
		return err
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return err
	}

	e.logger.Debug("stream error", slog.Any("error", err))
	e.closeWith(err)
	return err
}

func (e *Endpoint) closeWith(reason error) {
	e.closeOnce.Do(func() {
		if e.idleTime != nil {
			e.idleTime.Stop()
		}
		_ = e.conn.Close()

		e.mu.Lock()
		e.err = reason
		if reason != nil {
			e.state.Store(int32(StateErrored))
		} else {
			e.state.Store(int32(StateClosed))
		}
		hooks := e.hooks
		e.hooks = nil
		e.mu.Unlock()

		close(e.done)
		e.logger.Debug("endpoint closed", slog.Any("reason", reason))
		for _, fn := range hooks {
			fn(reason)
		}
	})
}
