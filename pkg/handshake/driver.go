package handshake

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/tlsloop/tlsloop-go/pkg/cert"
	"github.com/tlsloop/tlsloop-go/pkg/keylog"
	"github.com/tlsloop/tlsloop-go/pkg/poll"
	"github.com/tlsloop/tlsloop-go/pkg/transport"
)

// Driver defaults.
const (
	DefaultServerName = cert.DefaultServerName
	DefaultTimeout    = 10 * time.Second
)

// Config configures a Driver.
type Config struct {
	// ServerName is the identity the client verifies (default: local.example).
	ServerName string

	// SessionTickets enables session tickets on both sides.
	SessionTickets bool

	// Poll controls the milestone wait between attempts.
	Poll poll.Config

	// Timeout bounds one AwaitHandshake call (default: 10s).
	Timeout time.Duration

	// Clock timestamps milestone events (default: Poll.Clock or wall clock).
	Clock clock.Clock

	// OnMilestone is called as each milestone resolves (optional).
	OnMilestone func(MilestoneEvent)

	// OnTicket is called when the client receives a session ticket (optional).
	OnTicket func(Role)

	// Logger for debug output (optional).
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ServerName == "" {
		c.ServerName = DefaultServerName
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Clock == nil {
		c.Clock = c.Poll.Clock
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Poll.Clock == nil {
		c.Poll.Clock = c.Clock
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Driver builds TLS sessions from certificate material and awaits their
// handshake milestones.
type Driver struct {
	cfg      Config
	material *cert.Material
	caPool   *x509.CertPool
}

// NewDriver creates a Driver. The material must contain the CA and the
// server certificate; the client certificate is optional.
func NewDriver(cfg Config, material *cert.Material) (*Driver, error) {
	if material == nil {
		return nil, cert.ErrCertNotFound
	}
	pool, err := material.CAPool()
	if err != nil {
		return nil, fmt.Errorf("CA pool: %w", err)
	}
	return &Driver{
		cfg:      cfg.withDefaults(),
		material: material,
		caPool:   pool,
	}, nil
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// NewServerSession wraps the passive endpoint in a server TLS session that
// requests a client certificate. Key log lines go to sink.
func (d *Driver) NewServerSession(ep *transport.Endpoint, sink keylog.Sink) (*Session, error) {
	pair, err := d.material.ServerKeyPair()
	if err != nil {
		return nil, err
	}

	var buildErr error
	s := newSession(RoleServer, ep, func(obs *observer) *tls.Config {
		cfg, err := transport.NewServerTLSConfig(&transport.TLSConfig{
			Certificate:    pair,
			ClientCAs:      d.caPool,
			KeyLogWriter:   newKeyLogTee(sink, obs),
			SessionTickets: d.cfg.SessionTickets,
		})
		buildErr = err
		return cfg
	}, d.cfg.Logger)
	if buildErr != nil {
		return nil, buildErr
	}
	return s, nil
}

// NewClientSession wraps the active endpoint in a client TLS session that
// verifies the server name against the CA. Material without a client
// certificate yields a client that presents none.
func (d *Driver) NewClientSession(ep *transport.Endpoint, sink keylog.Sink) (*Session, error) {
	var pair tls.Certificate
	if d.material.HasClientCert() {
		var err error
		if pair, err = d.material.ClientKeyPair(); err != nil {
			return nil, err
		}
	}

	var buildErr error
	s := newSession(RoleClient, ep, func(obs *observer) *tls.Config {
		tc := &transport.TLSConfig{
			Certificate:    pair,
			RootCAs:        d.caPool,
			ServerName:     d.cfg.ServerName,
			KeyLogWriter:   newKeyLogTee(sink, obs),
			SessionTickets: d.cfg.SessionTickets,
		}
		if d.cfg.SessionTickets {
			tc.ClientSessionCache = &ticketCache{
				ClientSessionCache: tls.NewLRUClientSessionCache(1),
				onTicket:           d.ticket,
			}
		}
		cfg, err := transport.NewClientTLSConfig(tc)
		buildErr = err
		return cfg
	}, d.cfg.Logger)
	if buildErr != nil {
		return nil, buildErr
	}
	return s, nil
}

func (d *Driver) ticket() {
	d.cfg.Logger.Debug("client received session ticket")
	if d.cfg.OnTicket != nil {
		d.cfg.OnTicket(RoleClient)
	}
}

// AwaitHandshake starts the session's handshake if needed and waits for
// its four milestones. SessionEstablished and LocalFinishedSent are awaited
// independently; PeerFinishedReceived waits for LocalFinishedSent and
// PeerCertificateObserved for PeerFinishedReceived.
//
// PeerFinishedReceived also requires the engine handshake to have returned
// without error: the client engine returns once its own Finished is out,
// the server engine once it has verified the client's flight. A flight the
// engine rejects therefore never resolves it.
//
// On failure the partial Outcome is returned with the error; unresolved
// tracks are marked aborted. The wait is bounded by the configured timeout.
func (d *Driver) AwaitHandshake(ctx context.Context, s *Session) (*Outcome, error) {
	s.Start(ctx)

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	out := newOutcome(s.role)
	start := d.cfg.Clock.Now()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.track(gctx, s, out, start, SessionEstablished,
			func() (any, bool) {
				info, ok := s.Info()
				return info, ok
			},
			func(o *Outcome, v any) { o.Info = v.(SessionInfo) })
	})

	g.Go(func() error {
		err := d.track(gctx, s, out, start, LocalFinishedSent,
			func() (any, bool) {
				v := s.LocalFinished()
				return v, v != nil
			},
			func(o *Outcome, v any) { o.LocalFinished = v.([]byte) })
		if err != nil {
			return err
		}

		err = d.track(gctx, s, out, start, PeerFinishedReceived,
			func() (any, bool) {
				v := s.PeerFinished()
				return v, v != nil && s.engineAccepted()
			},
			func(o *Outcome, v any) { o.PeerFinished = v.([]byte) })
		if err != nil {
			return err
		}

		return d.track(gctx, s, out, start, PeerCertificateObserved,
			func() (any, bool) {
				c, ok := s.PeerCertificate()
				return c, ok
			},
			func(o *Outcome, v any) { o.PeerCertificate = v.(*x509.Certificate) })
	})

	if err := g.Wait(); err != nil {
		out.abortPending()
		return out, d.classify(s, err)
	}
	return out, nil
}

// track waits for one milestone and records it on the outcome.
func (d *Driver) track(ctx context.Context, s *Session, out *Outcome, start time.Time, m Milestone,
	predicate func() (any, bool), apply func(*Outcome, any)) error {
	v, stats, err := poll.Until(ctx, d.cfg.Poll, s.wake, predicate, s.failure)
	if err != nil {
		return err
	}

	ev := out.resolve(MilestoneEvent{
		Role:      s.role,
		Milestone: m,
		Elapsed:   d.cfg.Clock.Since(start),
		Attempts:  stats.Attempts,
		Detail:    detail(v),
	}, func(o *Outcome) { apply(o, v) })

	d.cfg.Logger.Debug("milestone",
		slog.String("role", s.role.String()),
		slog.String("milestone", m.String()),
		slog.Int("seq", ev.Seq),
		slog.Int("attempts", stats.Attempts))
	if d.cfg.OnMilestone != nil {
		d.cfg.OnMilestone(ev)
	}
	return nil
}

// classify maps a track failure to the session's terminal error.
func (d *Driver) classify(s *Session, err error) error {
	var he *HandshakeError
	var ce *HandshakeClosedError
	if errors.As(err, &he) || errors.As(err, &ce) {
		return err
	}
	// A wait cut short by the timeout or a sibling failure; report the
	// session's own condition when it has one.
	if ferr := s.failure(); ferr != nil {
		return ferr
	}
	return &HandshakeError{Role: s.role, Cause: err}
}

// Handshake awaits both sessions concurrently. The first failure wins.
func (d *Driver) Handshake(ctx context.Context, server, client *Session) (serverOut, clientOut *Outcome, err error) {
	server.Start(ctx)
	client.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		serverOut, err = d.AwaitHandshake(gctx, server)
		return err
	})
	g.Go(func() error {
		var err error
		clientOut, err = d.AwaitHandshake(gctx, client)
		return err
	})
	err = g.Wait()
	return serverOut, clientOut, err
}

// detail summarises a resolved milestone value.
func detail(v any) string {
	switch v := v.(type) {
	case SessionInfo:
		return fmt.Sprintf("%s %s", transport.VersionString(v.Version), transport.CipherSuiteString(v.CipherSuite))
	case []byte:
		return hex.EncodeToString(v)
	case *x509.Certificate:
		if v == nil {
			return "absent"
		}
		return cert.Summary(v)
	default:
		return ""
	}
}
