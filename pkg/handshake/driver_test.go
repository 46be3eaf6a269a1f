package handshake

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlsloop/tlsloop-go/pkg/cert"
	"github.com/tlsloop/tlsloop-go/pkg/keylog"
	"github.com/tlsloop/tlsloop-go/pkg/poll"
	"github.com/tlsloop/tlsloop-go/pkg/transport"
)

type fixture struct {
	pair         *transport.Pair
	driver       *Driver
	server       *Session
	client       *Session
	serverKeyLog *keylog.MemorySink
	clientKeyLog *keylog.MemorySink

	mu     sync.Mutex
	events []MilestoneEvent
}

func (f *fixture) recorded() []MilestoneEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MilestoneEvent(nil), f.events...)
}

func newFixture(t *testing.T, m *cert.Material, cfg Config, pairCfg transport.PairConfig) *fixture {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pair, err := transport.EstablishPair(ctx, pairCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pair.Close() })

	f := &fixture{
		pair:         pair,
		serverKeyLog: keylog.NewMemorySink(),
		clientKeyLog: keylog.NewMemorySink(),
	}
	cfg.OnMilestone = func(ev MilestoneEvent) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.events = append(f.events, ev)
	}

	f.driver, err = NewDriver(cfg, m)
	require.NoError(t, err)
	f.server, err = f.driver.NewServerSession(pair.Passive, f.serverKeyLog)
	require.NoError(t, err)
	f.client, err = f.driver.NewClientSession(pair.Active, f.clientKeyLog)
	require.NoError(t, err)
	return f
}

func material(t *testing.T) *cert.Material {
	t.Helper()
	m, err := cert.Generate(cert.GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	return m
}

func indexOf(events []MilestoneEvent, m Milestone) int {
	for i, ev := range events {
		if ev.Milestone == m {
			return i
		}
	}
	return -1
}

func TestHandshakeMutualTLS(t *testing.T) {
	f := newFixture(t, material(t), Config{}, transport.PairConfig{})

	srv, cli, err := f.driver.Handshake(context.Background(), f.server, f.client)
	require.NoError(t, err)

	for _, out := range []*Outcome{srv, cli} {
		assert.True(t, out.Resolved(), "%s outcome not resolved", out.Role)
		require.Len(t, out.Events, 4)
		for i, ev := range out.Events {
			assert.Equal(t, i+1, ev.Seq)
			assert.Equal(t, out.Role, ev.Role)
		}
		// Dependency order.
		assert.Less(t, indexOf(out.Events, LocalFinishedSent), indexOf(out.Events, PeerFinishedReceived))
		assert.Less(t, indexOf(out.Events, PeerFinishedReceived), indexOf(out.Events, PeerCertificateObserved))

		assert.Equal(t, uint16(tls.VersionTLS13), out.Info.Version)
		assert.NotEmpty(t, out.LocalFinished)
		assert.NotEmpty(t, out.PeerFinished)
		require.NotNil(t, out.PeerCertificate)
	}

	// Each side's Finished is the other side's peer Finished.
	assert.Equal(t, srv.LocalFinished, cli.PeerFinished)
	assert.Equal(t, cli.LocalFinished, srv.PeerFinished)
	assert.NotEqual(t, srv.LocalFinished, cli.LocalFinished)

	assert.Equal(t, srv.Info.CipherSuite, cli.Info.CipherSuite)
	assert.Equal(t, srv.Info.ClientRandom, cli.Info.ClientRandom)
	assert.Len(t, srv.Info.ClientRandom, 32)
	assert.False(t, cli.Info.HelloRetry)

	assert.Equal(t, "client.local.example", srv.PeerCertificate.Subject.CommonName)
	assert.Equal(t, []string{"local.example"}, cli.PeerCertificate.DNSNames)

	assert.Len(t, f.recorded(), 8)

	// The observed peer certificate is the one the engine saw.
	state := f.client.Conn().(*tls.Conn).ConnectionState()
	require.NotEmpty(t, state.PeerCertificates)
	assert.True(t, state.PeerCertificates[0].Equal(cli.PeerCertificate))
	assert.Equal(t, state.CipherSuite, cli.Info.CipherSuite)
}

func TestHandshakeKeyLog(t *testing.T) {
	f := newFixture(t, material(t), Config{}, transport.PairConfig{})
	_, _, err := f.driver.Handshake(context.Background(), f.server, f.client)
	require.NoError(t, err)

	for name, sink := range map[string]*keylog.MemorySink{"server": f.serverKeyLog, "client": f.clientKeyLog} {
		joined := strings.Join(sink.Lines(), "")
		assert.Contains(t, joined, "CLIENT_HANDSHAKE_TRAFFIC_SECRET ", name)
		assert.Contains(t, joined, "SERVER_HANDSHAKE_TRAFFIC_SECRET ", name)
		for _, line := range sink.Lines() {
			assert.True(t, strings.HasSuffix(line, "\n"), "%s line %q", name, line)
		}
	}
}

func TestHandshakeWithoutClientCertificate(t *testing.T) {
	f := newFixture(t, material(t).WithoutClientCert(), Config{}, transport.PairConfig{})

	srv, cli, err := f.driver.Handshake(context.Background(), f.server, f.client)
	require.NoError(t, err)

	assert.Nil(t, srv.PeerCertificate)
	assert.Equal(t, TrackResolved, srv.Track(PeerCertificateObserved))
	last := srv.Events[len(srv.Events)-1]
	assert.Equal(t, PeerCertificateObserved, last.Milestone)
	assert.Equal(t, "absent", last.Detail)

	assert.NotNil(t, cli.PeerCertificate)
	assert.Equal(t, srv.LocalFinished, cli.PeerFinished)
}

func TestHandshakeUntrustedServer(t *testing.T) {
	a := material(t)
	b := material(t)

	// The client trusts a different CA than the one that issued the server.
	mixed := *a
	mixed.CA = b.CA
	f := newFixture(t, &mixed, Config{Timeout: 5 * time.Second}, transport.PairConfig{})

	srv, cli, err := f.driver.Handshake(context.Background(), f.server, f.client)
	require.Error(t, err)

	var he *HandshakeError
	require.True(t, errors.As(err, &he), "error = %v", err)

	require.NotNil(t, cli)
	assert.Nil(t, cli.LocalFinished)
	assert.NotEqual(t, TrackResolved, cli.Track(PeerFinishedReceived))
	if srv != nil {
		assert.NotEqual(t, TrackResolved, srv.Track(PeerFinishedReceived))
	}
}

// clientWithMismatchedKey wraps the active endpoint in a client session whose
// certificate pairs a valid leaf with an unrelated private key. The leaf is
// repeated so the server engine spends longer on the flight.
func clientWithMismatchedKey(t *testing.T, f *fixture, m *cert.Material) *Session {
	t.Helper()

	good, err := m.ClientKeyPair()
	require.NoError(t, err)
	other, err := material(t).ClientKeyPair()
	require.NoError(t, err)
	pool, err := m.CAPool()
	require.NoError(t, err)

	chain := make([][]byte, 0, 64)
	for n := 0; n < 64; n++ {
		chain = append(chain, good.Certificate[0])
	}
	bad := tls.Certificate{Certificate: chain, PrivateKey: other.PrivateKey}

	return newSession(RoleClient, f.pair.Active, func(obs *observer) *tls.Config {
		cfg, err := transport.NewClientTLSConfig(&transport.TLSConfig{
			Certificate:  bad,
			RootCAs:      pool,
			ServerName:   DefaultServerName,
			KeyLogWriter: newKeyLogTee(f.clientKeyLog, obs),
		})
		require.NoError(t, err)
		return cfg
	}, f.driver.cfg.Logger)
}

func TestHandshakeServerRejectsClientSignature(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := material(t)
		f := newFixture(t, m, Config{Timeout: 5 * time.Second}, transport.PairConfig{})
		client := clientWithMismatchedKey(t, f, m)

		srv, _, err := f.driver.Handshake(context.Background(), f.server, client)
		require.Error(t, err, "run %d", i)

		require.NotNil(t, srv, "run %d", i)
		assert.False(t, srv.Resolved(), "run %d", i)
		assert.NotEqual(t, TrackResolved, srv.Track(PeerFinishedReceived), "run %d", i)
		assert.NotEqual(t, TrackResolved, srv.Track(PeerCertificateObserved), "run %d", i)
		assert.Equal(t, -1, indexOf(srv.Events, PeerFinishedReceived), "run %d", i)

		select {
		case <-f.server.HandshakeDone():
		case <-time.After(5 * time.Second):
			t.Fatalf("run %d: server engine did not return", i)
		}
		require.Error(t, f.server.Err(), "run %d", i)

		var he *HandshakeError
		require.True(t, errors.As(f.server.failure(), &he), "run %d: failure = %v", i, f.server.failure())
		assert.Equal(t, RoleServer, he.Role)
	}
}

func TestHandshakeClosedBeforeCompletion(t *testing.T) {
	f := newFixture(t, material(t), Config{}, transport.PairConfig{})

	require.NoError(t, f.pair.Active.Close())

	out, err := f.driver.AwaitHandshake(context.Background(), f.server)
	require.Error(t, err)

	var ce *HandshakeClosedError
	require.True(t, errors.As(err, &ce), "error = %v", err)
	assert.Equal(t, RoleServer, ce.Role)
	assert.ErrorIs(t, err, ErrSessionClosed)

	for _, m := range Milestones {
		assert.Equal(t, TrackAborted, out.Track(m), m.String())
	}
	assert.Equal(t, StateClosed, f.server.State())
}

func TestHandshakeIdleTimeout(t *testing.T) {
	f := newFixture(t, material(t), Config{},
		transport.PairConfig{IdleTimeout: 50 * time.Millisecond})

	// The client never starts, so the server side goes idle.
	_, err := f.driver.AwaitHandshake(context.Background(), f.server)

	var ce *HandshakeClosedError
	require.True(t, errors.As(err, &ce), "error = %v", err)
	assert.ErrorIs(t, f.pair.Passive.Err(), transport.ErrIdleTimeout)
}

func TestHandshakeTimeout(t *testing.T) {
	f := newFixture(t, material(t), Config{Timeout: 100 * time.Millisecond}, transport.PairConfig{})

	out, err := f.driver.AwaitHandshake(context.Background(), f.server)

	var he *HandshakeError
	require.True(t, errors.As(err, &he), "error = %v", err)
	assert.ErrorIs(t, err, poll.ErrTimeout)
	assert.Equal(t, TrackAborted, out.Track(PeerFinishedReceived))
}

func TestHandshakeSessionTicket(t *testing.T) {
	tickets := make(chan Role, 4)
	f := newFixture(t, material(t), Config{
		SessionTickets: true,
		OnTicket:       func(r Role) { tickets <- r },
	}, transport.PairConfig{})

	_, _, err := f.driver.Handshake(context.Background(), f.server, f.client)
	require.NoError(t, err)

	// The ticket is processed when the client next reads.
	go func() { _, _ = f.server.Conn().Write([]byte("x")) }()
	buf := make([]byte, 1)
	_, err = io.ReadFull(f.client.Conn(), buf)
	require.NoError(t, err)

	select {
	case r := <-tickets:
		assert.Equal(t, RoleClient, r)
	case <-time.After(2 * time.Second):
		t.Fatal("no session ticket reported")
	}
}

func TestEndCascade(t *testing.T) {
	f := newFixture(t, material(t), Config{}, transport.PairConfig{})
	_, _, err := f.driver.Handshake(context.Background(), f.server, f.client)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.client.AwaitEnd(ctx) }()

	require.NoError(t, f.server.End())
	require.NoError(t, <-done)

	assert.True(t, f.pair.Passive.IsClosed())
	assert.True(t, f.pair.Active.IsClosed())
	select {
	case <-f.pair.ListenerDone():
	case <-time.After(2 * time.Second):
		t.Fatal("listener not closed")
	}
	assert.Equal(t, StateClosed, f.server.State())
	assert.Equal(t, StateClosed, f.client.State())
}

func TestSessionStates(t *testing.T) {
	f := newFixture(t, material(t), Config{}, transport.PairConfig{})
	assert.Equal(t, StateIdle, f.server.State())

	_, _, err := f.driver.Handshake(context.Background(), f.server, f.client)
	require.NoError(t, err)

	<-f.server.HandshakeDone()
	<-f.client.HandshakeDone()
	assert.Equal(t, StateEstablished, f.server.State())
	assert.Equal(t, StateEstablished, f.client.State())

	require.NoError(t, f.client.Close())
	assert.Equal(t, StateClosed, f.client.State())
}

func TestNewDriverRequiresCA(t *testing.T) {
	_, err := NewDriver(Config{}, &cert.Material{})
	assert.ErrorIs(t, err, cert.ErrMissingCA)

	_, err = NewDriver(Config{}, nil)
	assert.ErrorIs(t, err, cert.ErrCertNotFound)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, "local.example", cfg.ServerName)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.NotNil(t, cfg.Clock)
	assert.Equal(t, cfg.Clock, cfg.Poll.Clock)
	assert.NotNil(t, cfg.Logger)
}
