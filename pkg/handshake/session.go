package handshake

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tlsloop/tlsloop-go/pkg/poll"
	"github.com/tlsloop/tlsloop-go/pkg/transport"
)

// Session is one TLS endpoint of the harness: a tls.Conn over a transport
// endpoint, with a record tap underneath and a key log tee on top.
//
// The handshake progress queries (Info, LocalFinished, PeerFinished,
// PeerCertificate) never block and never touch the engine while it is
// handshaking.
type Session struct {
	role   Role
	ep     *transport.Endpoint
	conn   *tls.Conn
	obs    *observer
	wake   *poll.Notifier
	logger *slog.Logger

	startOnce sync.Once
	hsDone    chan struct{}

	mu     sync.Mutex
	state  SessionState
	hsErr  error
	closed bool
}

func newSession(role Role, ep *transport.Endpoint, build func(obs *observer) *tls.Config, logger *slog.Logger) *Session {
	s := &Session{
		role:   role,
		ep:     ep,
		wake:   poll.NewNotifier(),
		hsDone: make(chan struct{}),
		logger: logger.With(slog.String("role", role.String())),
	}
	s.obs = newObserver(role, s.wake.Notify)

	tap := newTapConn(ep, s.obs)
	if role == RoleServer {
		s.conn = tls.Server(tap, build(s.obs))
	} else {
		s.conn = tls.Client(tap, build(s.obs))
	}

	ep.OnClose(func(error) { s.wake.Notify() })
	return s
}

// Role returns the session's TLS role.
func (s *Session) Role() Role {
	return s.role
}

// Endpoint returns the transport endpoint under the session.
func (s *Session) Endpoint() *transport.Endpoint {
	return s.ep
}

// Conn returns the TLS connection for application data.
func (s *Session) Conn() net.Conn {
	return s.conn
}

// ConnectionState returns the engine's view of the connection. It waits
// for a running engine handshake to return.
func (s *Session) ConnectionState() tls.ConnectionState {
	return s.conn.ConnectionState()
}

// Start launches the engine handshake in its own goroutine. Calls after
// the first are no-ops. ctx bounds the handshake itself.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		if s.state == StateIdle {
			s.state = StateNegotiating
		}
		s.mu.Unlock()
		s.logger.Debug("handshake started")

		go func() {
			err := s.conn.HandshakeContext(ctx)

			s.mu.Lock()
			s.hsErr = err
			switch {
			case s.closed:
			case err != nil:
				s.state = StateFailed
			default:
				s.state = StateEstablished
			}
			s.mu.Unlock()

			if err != nil {
				s.logger.Debug("handshake failed", slog.Any("error", err))
			} else {
				s.logger.Debug("handshake complete")
			}
			close(s.hsDone)
			s.wake.Notify()
		}()
	})
}

// HandshakeDone returns a channel closed when the engine handshake returns.
func (s *Session) HandshakeDone() <-chan struct{} {
	return s.hsDone
}

// engineAccepted reports whether the engine handshake returned without
// error. Until then, bytes seen by the tap have not been processed.
func (s *Session) engineAccepted() bool {
	select {
	case <-s.hsDone:
	default:
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hsErr == nil
}

// State returns the session's lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ep.IsClosed() {
		return StateClosed
	}
	return s.state
}

// Info returns the negotiated parameters once the ServerHello was seen and
// both handshake traffic secrets were logged.
func (s *Session) Info() (SessionInfo, bool) {
	return s.obs.info()
}

// LocalFinished returns this side's Finished verify_data, or nil.
func (s *Session) LocalFinished() []byte {
	return s.obs.localFinished()
}

// PeerFinished returns the peer's Finished verify_data, or nil.
func (s *Session) PeerFinished() []byte {
	return s.obs.peerFinished()
}

// PeerCertificate returns the unverified peer leaf. ok is false while it is
// not yet known; a known absence returns (nil, true).
func (s *Session) PeerCertificate() (*x509.Certificate, bool) {
	return s.obs.peerCertificate()
}

// Err returns the engine or observer error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	err := s.hsErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.obs.failure()
}

// Closed reports whether the session or its endpoint is closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	return closed || s.ep.IsClosed()
}

// failure classifies the current terminal condition, if any. A failure
// whose endpoint is already closed is a closure, not an engine error.
func (s *Session) failure() error {
	if err := s.Err(); err != nil {
		if s.ep.IsClosed() && !errors.Is(err, ErrDecode) {
			return &HandshakeClosedError{Role: s.role}
		}
		return &HandshakeError{Role: s.role, Cause: err}
	}
	if s.Closed() {
		return &HandshakeClosedError{Role: s.role}
	}
	return nil
}

// End sends close_notify and closes the session.
func (s *Session) End() error {
	s.markClosed()
	err := s.conn.Close()
	if err != nil && s.ep.IsClosed() {
		s.logger.Debug("close", slog.Any("error", err))
		return nil
	}
	return err
}

// AwaitEnd reads until the peer ends the stream, discarding data, then
// closes the session. ctx bounds the wait.
func (s *Session) AwaitEnd(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	_, err := io.Copy(io.Discard, s.conn)
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		err = ctxErr
	}
	s.logger.Debug("peer ended stream", slog.Any("error", err))

	s.markClosed()
	if cerr := s.conn.Close(); cerr != nil {
		s.logger.Debug("close", slog.Any("error", cerr))
	}
	return err
}

// Close closes the session without waiting for the peer.
func (s *Session) Close() error {
	s.markClosed()
	err := s.conn.Close()
	if errors.Is(err, net.ErrClosed) || errors.Is(err, transport.ErrEndpointClosed) {
		return nil
	}
	return err
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake.Notify()
}
