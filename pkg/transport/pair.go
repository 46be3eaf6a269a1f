package transport

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Pair defaults.
const (
	DefaultAddress     = "127.0.0.1:0"
	DefaultDialTimeout = 5 * time.Second
)

// PairConfig configures EstablishPair.
type PairConfig struct {
	// Address to listen on. Must be a loopback address (default: 127.0.0.1:0).
	Address string

	// IdleTimeout closes the passive endpoint after this long without I/O
	// (0 disables).
	IdleTimeout time.Duration

	// DialTimeout bounds the active side's dial (default: 5s).
	DialTimeout time.Duration

	// Clock drives the idle timer (default: wall clock).
	Clock clock.Clock

	// Logger for debug output (optional).
	Logger *slog.Logger

	// OnListening is called with the bound port before the dial starts.
	OnListening func(port int)
}

func (c PairConfig) withDefaults() PairConfig {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// Pair is a connected passive/active endpoint pair on loopback.
type Pair struct {
	// Passive is the accepted endpoint.
	Passive *Endpoint

	// Active is the dialed endpoint.
	Active *Endpoint

	listener       net.Listener
	port           int
	listenerClosed atomic.Bool
	listenerDone   chan struct{}
}

// Port returns the bound listener port.
func (p *Pair) Port() int {
	return p.port
}

// ListenerClosed reports whether the listener has been torn down.
func (p *Pair) ListenerClosed() bool {
	return p.listenerClosed.Load()
}

// ListenerDone returns a channel closed once the listener is torn down.
func (p *Pair) ListenerDone() <-chan struct{} {
	return p.listenerDone
}

// Close closes both endpoints and the listener.
func (p *Pair) Close() error {
	var err error
	err = multierr.Append(err, p.Active.Close())
	err = multierr.Append(err, p.Passive.Close())
	err = multierr.Append(err, p.closeListener())
	return err
}

func (p *Pair) closeListener() error {
	if !p.listenerClosed.CompareAndSwap(false, true) {
		return nil
	}
	defer close(p.listenerDone)
	return p.listener.Close()
}

// EstablishPair binds an ephemeral loopback port, accepts exactly one
// connection while dialing it, and returns both ends connected. The listener
// stops accepting once the pair exists and is closed when the passive
// endpoint closes.
func EstablishPair(ctx context.Context, cfg PairConfig) (*Pair, error) {
	cfg = cfg.withDefaults()
	if err := CheckLoopback(cfg.Address); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, &TransportError{Op: "listen", Err: err}
	}
	tcpLn := ln.(*net.TCPListener)
	port := ln.Addr().(*net.TCPAddr).Port
	cfg.Logger.Debug("listening", slog.Int("port", port))
	if cfg.OnListening != nil {
		cfg.OnListening(port)
	}

	var accepted, dialed net.Conn
	g, gctx := errgroup.WithContext(ctx)

	// Unblock Accept once the group is done or fails; a deadline in the past
	// also stops any further accepts on the kept listener.
	stop := context.AfterFunc(gctx, func() {
		_ = tcpLn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	g.Go(func() error {
		conn, err := tcpLn.Accept()
		if err != nil {
			return &TransportError{Op: "accept", Err: err}
		}
		accepted = conn
		return nil
	})
	g.Go(func() error {
		d := net.Dialer{Timeout: cfg.DialTimeout}
		conn, err := d.DialContext(gctx, "tcp", ln.Addr().String())
		if err != nil {
			return &TransportError{Op: "dial", Err: err}
		}
		dialed = conn
		return nil
	})

	if err := g.Wait(); err != nil {
		for _, c := range []net.Conn{accepted, dialed} {
			if c != nil {
				_ = c.Close()
			}
		}
		_ = ln.Close()
		return nil, err
	}
	_ = tcpLn.SetDeadline(time.Unix(1, 0))

	p := &Pair{
		listener:     ln,
		port:         port,
		listenerDone: make(chan struct{}),
	}
	p.Passive = newEndpoint(accepted, SidePassive, endpointOptions{
		idleTimeout: cfg.IdleTimeout,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
	})
	p.Active = newEndpoint(dialed, SideActive, endpointOptions{
		clock:  cfg.Clock,
		logger: cfg.Logger,
	})
	p.Passive.OnClose(func(error) {
		if err := p.closeListener(); err != nil {
			cfg.Logger.Debug("listener close", slog.Any("error", err))
		}
	})

	cfg.Logger.Debug("pair established",
		slog.String("passive", p.Passive.ID()),
		slog.String("active", p.Active.ID()))
	return p, nil
}

// CheckLoopback rejects listen addresses that are not on loopback.
// "localhost" is accepted by name.
func CheckLoopback(address string) error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return &TransportError{Op: "listen", Err: err}
	}
	if _, err := strconv.Atoi(port); err != nil {
		return &TransportError{Op: "listen", Err: err}
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return ErrNotLoopback
	}
	return nil
}
