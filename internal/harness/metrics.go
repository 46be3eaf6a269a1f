package harness

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tlsloop/tlsloop-go/pkg/handshake"
)

// Metrics collects per-run measurements in a private registry so that
// several runners can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	runs              *prometheus.CounterVec
	runDuration       prometheus.Gauge
	milestoneSeconds  *prometheus.HistogramVec
	milestoneAttempts *prometheus.CounterVec
	probeBytes        *prometheus.CounterVec
	tickets           prometheus.Counter
}

// NewMetrics creates a Metrics with its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,

		// runs counts finished runs by result and failure kind.
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tlsloop_runs_total",
			Help: "Total number of harness runs",
		}, []string{"result", "kind"}),

		runDuration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tlsloop_run_duration_seconds",
			Help: "Duration of the last harness run (in seconds)",
		}),

		milestoneSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tlsloop_milestone_seconds",
			Help:    "Time from the start of the handshake wait to milestone resolution (in seconds)",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"role", "milestone"}),

		milestoneAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tlsloop_milestone_poll_attempts_total",
			Help: "Poll attempts spent resolving milestones",
		}, []string{"role", "milestone"}),

		probeBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "tlsloop_probe_bytes_total",
			Help: "Bytes received by each side during probes",
		}, []string{"probe", "role"}),

		tickets: factory.NewCounter(prometheus.CounterOpts{
			Name: "tlsloop_session_tickets_total",
			Help: "Session tickets received by the client",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeMilestone(ev handshake.MilestoneEvent) {
	labels := prometheus.Labels{"role": ev.Role.String(), "milestone": ev.Milestone.String()}
	m.milestoneSeconds.With(labels).Observe(ev.Elapsed.Seconds())
	m.milestoneAttempts.With(labels).Add(float64(ev.Attempts))
}

func (m *Metrics) observeProbe(probe string, fromServer, fromClient []byte) {
	m.probeBytes.WithLabelValues(probe, "client").Add(float64(len(fromServer)))
	m.probeBytes.WithLabelValues(probe, "server").Add(float64(len(fromClient)))
}

func (m *Metrics) observeTicket() {
	m.tickets.Inc()
}

func (m *Metrics) observeRun(err error, d time.Duration) {
	result, kind := "passed", ""
	if err != nil {
		result, kind = "failed", KindOf(err).String()
	}
	m.runs.WithLabelValues(result, kind).Inc()
	m.runDuration.Set(d.Seconds())
}

// WriteToTextfile dumps all metrics in the Prometheus text format, for the
// node exporter's textfile collector.
func (m *Metrics) WriteToTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
