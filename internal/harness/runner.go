// Package harness runs the loopback mutual-TLS scenario end to end: pair
// establishment, a plaintext probe, the TLS handshake with milestone
// tracking, a secure probe and the closure cascade.
package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tlsloop/tlsloop-go/internal/config"
	"github.com/tlsloop/tlsloop-go/internal/reporter"
	"github.com/tlsloop/tlsloop-go/pkg/cert"
	"github.com/tlsloop/tlsloop-go/pkg/handshake"
	"github.com/tlsloop/tlsloop-go/pkg/keylog"
	"github.com/tlsloop/tlsloop-go/pkg/log"
	"github.com/tlsloop/tlsloop-go/pkg/poll"
	"github.com/tlsloop/tlsloop-go/pkg/probe"
	"github.com/tlsloop/tlsloop-go/pkg/transport"
)

// DefaultTeardownTimeout bounds the wait for the closure cascade.
const DefaultTeardownTimeout = 5 * time.Second

// ErrTeardownIncomplete is returned when the closure cascade does not
// finish in time.
var ErrTeardownIncomplete = errors.New("teardown incomplete")

// Options supplies the collaborators of a Runner. Every field is optional.
type Options struct {
	// Store provides certificate material. Defaults to a FileStore on
	// config.CertDir, or freshly generated material when that is empty.
	Store cert.Store

	// Reporter receives console progress (default: discard).
	Reporter reporter.Reporter

	// EventLogger receives the structured event trace (default: discard).
	EventLogger log.Logger

	// Metrics collects measurements (default: a private collector).
	Metrics *Metrics

	// Logger for operational output (default: discard).
	Logger *slog.Logger

	// Clock for timestamps and timers (default: wall clock).
	Clock clock.Clock

	// TeardownTimeout bounds the closure cascade (default: 5s).
	TeardownTimeout time.Duration
}

// Result describes a run. On failure it holds whatever was gathered before
// the failing stage.
type Result struct {
	RunID string
	Port  int

	Plaintext *probe.Result
	Secure    *probe.Result

	Server *handshake.Outcome
	Client *handshake.Outcome

	ServerKeyLog string
	ClientKeyLog string

	Started  time.Time
	Duration time.Duration

	PassiveClosed  bool
	ActiveClosed   bool
	ListenerClosed bool
}

// Runner executes one harness scenario per Run call.
type Runner struct {
	cfg  *config.Config
	opts Options
}

// New creates a Runner. A nil cfg uses config.Default().
func New(cfg *config.Config, opts Options) *Runner {
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Reporter == nil {
		opts.Reporter = discardReporter{}
	}
	if opts.EventLogger == nil {
		opts.EventLogger = log.NoopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.TeardownTimeout <= 0 {
		opts.TeardownTimeout = DefaultTeardownTimeout
	}
	return &Runner{cfg: cfg, opts: opts}
}

// Metrics returns the runner's metrics collector.
func (r *Runner) Metrics() *Metrics {
	return r.opts.Metrics
}

// run carries the state of one Run call.
type run struct {
	*Runner
	id     string
	result *Result
	logger *slog.Logger
}

// Run executes the scenario. Errors are *ClassifiedError; use KindOf to
// inspect them. Progress reported before a failure stays reported.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	id := uuid.NewString()
	rn := &run{
		Runner: r,
		id:     id,
		result: &Result{RunID: id, Started: r.opts.Clock.Now()},
		logger: r.opts.Logger.With(slog.String("run_id", id)),
	}

	err := rn.execute(ctx)
	rn.result.Duration = r.opts.Clock.Since(rn.result.Started)
	if err != nil {
		rn.logError(err)
		rn.logger.Error("run failed", slog.String("kind", KindOf(err).String()), slog.Any("error", err))
	} else {
		rn.logger.Info("run complete", slog.Duration("duration", rn.result.Duration))
	}
	r.opts.Metrics.observeRun(err, rn.result.Duration)
	r.opts.Reporter.Summary(rn.summary(err))
	return rn.result, err
}

func (rn *run) execute(ctx context.Context) (err error) {
	cfg := rn.cfg

	material, err := rn.material()
	if err != nil {
		return classified(KindConfig, "certificates", err)
	}

	driver, err := handshake.NewDriver(handshake.Config{
		ServerName:     cfg.ServerName,
		SessionTickets: cfg.TicketsEnabled(),
		Poll:           rn.pollConfig(),
		Timeout:        cfg.HandshakeTimeout,
		Clock:          rn.opts.Clock,
		OnMilestone:    rn.milestone,
		OnTicket:       rn.ticket,
		Logger:         rn.logger,
	}, material)
	if err != nil {
		return classified(KindConfig, "driver", err)
	}

	pair, err := transport.EstablishPair(ctx, transport.PairConfig{
		Address:     cfg.ListenAddress,
		IdleTimeout: cfg.IdleTimeout,
		DialTimeout: cfg.DialTimeout,
		Clock:       rn.opts.Clock,
		Logger:      rn.logger,
		OnListening: func(port int) {
			rn.result.Port = port
			rn.opts.Reporter.Progress(fmt.Sprintf("server listening at port: %d", port))
		},
	})
	if err != nil {
		return classified(KindTransport, "establish", err)
	}
	rn.opts.Reporter.Progress("client connected")
	rn.watchEndpoint(log.RoleServer, pair.Passive)
	rn.watchEndpoint(log.RoleClient, pair.Active)

	// Released on failure; the success path tears down through the cascade.
	var cleanup []func() error
	defer func() {
		if err == nil {
			return
		}
		var cerr error
		for i := len(cleanup) - 1; i >= 0; i-- {
			cerr = multierr.Append(cerr, cleanup[i]())
		}
		if cerr != nil {
			rn.logger.Debug("cleanup", slog.Any("error", cerr))
		}
		rn.observeCascade(pair)
	}()
	cleanup = append(cleanup, pair.Close)

	// Plaintext probe.
	plain, err := probe.Plaintext(ctx, pair)
	if err == nil {
		err = probe.Verify(plain, probe.ServerHello, probe.ClientHello)
	}
	rn.result.Plaintext = plain
	if plain != nil {
		rn.payloads(reporter.ProbePlaintext, plain)
	}
	if err != nil {
		return classified(KindProbe, "plaintext probe", err)
	}

	serverSink, clientSink, err := keylog.OpenPair(cfg.KeyLogDir)
	if err != nil {
		return classified(KindConfig, "key log", err)
	}
	rn.result.ServerKeyLog = serverSink.Path()
	rn.result.ClientKeyLog = clientSink.Path()
	defer func() {
		if cerr := multierr.Combine(serverSink.Close(), clientSink.Close()); cerr != nil {
			rn.logger.Warn("key log close", slog.Any("error", cerr))
		}
	}()

	server, err := driver.NewServerSession(pair.Passive, serverSink)
	if err != nil {
		return classified(KindConfig, "server session", err)
	}
	cleanup = append(cleanup, server.Close)
	rn.opts.Reporter.Progress("server tls socket created")

	client, err := driver.NewClientSession(pair.Active, clientSink)
	if err != nil {
		return classified(KindConfig, "client session", err)
	}
	cleanup = append(cleanup, client.Close)

	// Handshake.
	serverOut, clientOut, err := driver.Handshake(ctx, server, client)
	rn.result.Server, rn.result.Client = serverOut, clientOut
	if err != nil {
		return handshakeFailure(err)
	}
	rn.sessionState(log.RoleServer, server)
	rn.sessionState(log.RoleClient, client)
	if err := transport.VerifyTLS13(server.ConnectionState()); err != nil {
		return classified(KindHandshake, "negotiation", err)
	}

	// Secure probe.
	secure, err := probe.Secure(ctx, server.Conn(), client.Conn())
	if err == nil {
		err = probe.Verify(secure, probe.SecureServerHello, probe.SecureClientHello)
	}
	rn.result.Secure = secure
	if secure != nil {
		rn.payloads(reporter.ProbeSecure, secure)
	}
	if err != nil {
		return classified(KindProbe, "secure probe", err)
	}

	return rn.teardown(ctx, pair, server, client)
}

// teardown ends the server session and waits for closure to cascade to
// the client and the listener.
func (rn *run) teardown(ctx context.Context, pair *transport.Pair, server, client *handshake.Session) error {
	ctx, cancel := context.WithTimeout(ctx, rn.opts.TeardownTimeout)
	defer cancel()

	if err := server.End(); err != nil {
		rn.logger.Debug("server end", slog.Any("error", err))
	}
	rn.sessionState(log.RoleServer, server)

	if err := client.AwaitEnd(ctx); err != nil {
		rn.logger.Debug("client await end", slog.Any("error", err))
	}
	rn.sessionState(log.RoleClient, client)

	for _, done := range []<-chan struct{}{pair.Passive.Done(), pair.Active.Done(), pair.ListenerDone()} {
		select {
		case <-done:
		case <-ctx.Done():
			rn.observeCascade(pair)
			_ = pair.Close()
			return classified(KindTransport, "teardown", fmt.Errorf("%w: %w", ErrTeardownIncomplete, ctx.Err()))
		}
	}
	rn.observeCascade(pair)
	rn.event(log.RoleServer, log.LayerTransport, log.CategoryState, "", func(ev *log.Event) {
		ev.StateChange = &log.StateChangeEvent{Entity: log.StateEntityListener, OldState: "LISTENING", NewState: "CLOSED"}
	})
	return nil
}

func (rn *run) observeCascade(pair *transport.Pair) {
	rn.result.PassiveClosed = pair.Passive.IsClosed()
	rn.result.ActiveClosed = pair.Active.IsClosed()
	rn.result.ListenerClosed = pair.ListenerClosed()
}

// material loads certificates from the configured source.
func (rn *run) material() (*cert.Material, error) {
	store := rn.opts.Store
	if store == nil && rn.cfg.CertDir != "" {
		store = cert.NewFileStore(rn.cfg.CertDir)
	}

	var m *cert.Material
	var err error
	if store != nil {
		m, err = store.Load()
	} else {
		m, err = cert.Generate(cert.GenerateOptions{
			ServerName: rn.cfg.ServerName,
			Now:        rn.opts.Clock.Now(),
		})
		rn.logger.Debug("generated ephemeral certificates")
	}
	if err != nil {
		return nil, err
	}
	if rn.cfg.WithoutClientCert {
		m = m.WithoutClientCert()
	}
	// Mismatched material is allowed; the handshake reports it.
	if verr := m.Validate(rn.cfg.ServerName); verr != nil {
		rn.logger.Warn("server certificate does not verify", slog.Any("error", verr))
	}
	return m, nil
}

func (rn *run) pollConfig() poll.Config {
	pc := rn.cfg.PollSettings()
	pc.Clock = rn.opts.Clock
	return pc
}

func (rn *run) milestone(ev handshake.MilestoneEvent) {
	rn.opts.Metrics.observeMilestone(ev)
	rn.opts.Reporter.Milestone(ev)
	rn.event(roleOf(ev.Role), log.LayerTLS, log.CategoryMilestone, "", func(e *log.Event) {
		e.Milestone = &log.MilestoneEvent{
			Name:     ev.Milestone.String(),
			Seq:      ev.Seq,
			Elapsed:  ev.Elapsed,
			Attempts: ev.Attempts,
			Detail:   ev.Detail,
		}
	})
}

func (rn *run) ticket(handshake.Role) {
	rn.opts.Metrics.observeTicket()
	rn.opts.Reporter.Progress("client got new session/TLS ticket.")
}

func (rn *run) payloads(name string, res *probe.Result) {
	rn.opts.Reporter.Payloads(name, res.FromServer, res.FromClient)
	rn.opts.Metrics.observeProbe(name, res.FromServer, res.FromClient)
	rn.event(log.RoleClient, log.LayerTransport, log.CategoryPayload, "", func(e *log.Event) {
		e.Payload = log.NewPayloadEvent(name, log.DirectionIn, res.FromServer)
	})
	rn.event(log.RoleServer, log.LayerTransport, log.CategoryPayload, "", func(e *log.Event) {
		e.Payload = log.NewPayloadEvent(name, log.DirectionIn, res.FromClient)
	})
}

func (rn *run) watchEndpoint(role log.Role, ep *transport.Endpoint) {
	rn.event(role, log.LayerTransport, log.CategoryState, ep.ID(), func(e *log.Event) {
		e.StateChange = &log.StateChangeEvent{Entity: log.StateEntityEndpoint, OldState: "CONNECTING", NewState: ep.State().String()}
	})
	ep.OnClose(func(reason error) {
		var why string
		if reason != nil {
			why = reason.Error()
		}
		rn.event(role, log.LayerTransport, log.CategoryState, ep.ID(), func(e *log.Event) {
			e.StateChange = &log.StateChangeEvent{Entity: log.StateEntityEndpoint, OldState: "CONNECTED", NewState: ep.State().String(), Reason: why}
		})
	})
}

func (rn *run) sessionState(role log.Role, s *handshake.Session) {
	rn.event(role, log.LayerTLS, log.CategoryState, s.Endpoint().ID(), func(e *log.Event) {
		e.StateChange = &log.StateChangeEvent{Entity: log.StateEntitySession, NewState: s.State().String()}
	})
}

func (rn *run) logError(err error) {
	layer := log.LayerHarness
	switch KindOf(err) {
	case KindTransport, KindProbe:
		layer = log.LayerTransport
	case KindHandshake, KindHandshakeClosed:
		layer = log.LayerTLS
	}
	rn.event(log.RoleHarness, layer, log.CategoryError, "", func(e *log.Event) {
		e.Error = &log.ErrorEventData{Layer: layer, Message: err.Error(), Kind: KindOf(err).String()}
		var ce *ClassifiedError
		if errors.As(err, &ce) {
			e.Error.Context = ce.Stage
		}
	})
}

func (rn *run) event(role log.Role, layer log.Layer, cat log.Category, endpointID string, fill func(*log.Event)) {
	ev := log.Event{
		Timestamp:  rn.opts.Clock.Now(),
		RunID:      rn.id,
		Role:       role,
		Layer:      layer,
		Category:   cat,
		EndpointID: endpointID,
	}
	fill(&ev)
	rn.opts.EventLogger.Log(ev)
}

func (rn *run) summary(err error) *reporter.Summary {
	res := rn.result
	s := &reporter.Summary{
		RunID:          res.RunID,
		Port:           res.Port,
		Passed:         err == nil,
		Error:          err,
		Duration:       res.Duration,
		PassiveClosed:  res.PassiveClosed,
		ActiveClosed:   res.ActiveClosed,
		ListenerClosed: res.ListenerClosed,
	}
	if err != nil {
		s.Kind = KindOf(err).String()
	}
	if out := res.Server; out != nil {
		s.Server = out.Events
		if out.Track(handshake.SessionEstablished) == handshake.TrackResolved {
			s.Version = transport.VersionString(out.Info.Version)
			s.CipherSuite = transport.CipherSuiteString(out.Info.CipherSuite)
		}
		if out.Track(handshake.PeerCertificateObserved) == handshake.TrackResolved {
			s.ClientCertificate = "absent"
			if out.PeerCertificate != nil {
				s.ClientCertificate = cert.Summary(out.PeerCertificate)
			}
		}
	}
	if out := res.Client; out != nil {
		s.Client = out.Events
	}
	return s
}

func roleOf(r handshake.Role) log.Role {
	if r == handshake.RoleClient {
		return log.RoleClient
	}
	return log.RoleServer
}

// discardReporter drops all progress.
type discardReporter struct{}

func (discardReporter) Progress(string)                    {}
func (discardReporter) Milestone(handshake.MilestoneEvent) {}
func (discardReporter) Payloads(string, []byte, []byte)    {}
func (discardReporter) Summary(*reporter.Summary)          {}
