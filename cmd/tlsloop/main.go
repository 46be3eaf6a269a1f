// Command tlsloop runs a loopback mutual-TLS handshake and reports each
// observable step.
//
// It connects a TCP pair on loopback, exchanges a plaintext greeting,
// upgrades both ends to TLS 1.3 with a client certificate, reports the
// handshake milestones of both sides, exchanges a greeting inside TLS and
// tears everything down from the server side.
//
// Usage:
//
//	tlsloop [flags]
//
// Flags:
//
//	-config string          YAML configuration file
//	-listen string          Loopback listen address (default "127.0.0.1:0")
//	-idle-timeout duration  Close the server-side socket after inactivity (0 disables)
//	-server-name string     Server identity the client verifies (default "local.example")
//	-cert-dir string        Certificate directory (empty: generate ephemeral material)
//	-without-client-cert    Run the client without a certificate
//	-keylog-dir string      Directory for key-log files (default "tmp")
//	-timeout duration       Handshake milestone timeout (default 10s)
//	-no-tickets             Disable session tickets
//	-json                   Output JSON lines
//	-event-log string       File path for the CBOR event log (.tlog)
//	-metrics-file string    Write Prometheus metrics to this file after the run
//	-verbose                Enable verbose output
//
// Exit status is 0 on success, 1 when the run fails and 2 for invalid
// configuration.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tlsloop/tlsloop-go/internal/config"
	"github.com/tlsloop/tlsloop-go/internal/harness"
	"github.com/tlsloop/tlsloop-go/internal/reporter"
	"github.com/tlsloop/tlsloop-go/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// flags holds command-line values. Only flags that were set override the
// configuration file.
type flags struct {
	configFile        string
	listen            string
	idleTimeout       time.Duration
	serverName        string
	certDir           string
	withoutClientCert bool
	keyLogDir         string
	timeout           time.Duration
	noTickets         bool
	jsonOut           bool
	eventLog          string
	metricsFile       string
	verbose           bool
}

func newFlagSet(stderr io.Writer) (*flag.FlagSet, *flags) {
	f := &flags{}
	fs := flag.NewFlagSet("tlsloop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configFile, "config", "", "YAML configuration file")
	fs.StringVar(&f.listen, "listen", "", "Loopback listen address (default \"127.0.0.1:0\")")
	fs.DurationVar(&f.idleTimeout, "idle-timeout", 0, "Close the server-side socket after inactivity (0 disables)")
	fs.StringVar(&f.serverName, "server-name", "", "Server identity the client verifies (default \"local.example\")")
	fs.StringVar(&f.certDir, "cert-dir", "", "Certificate directory (empty: generate ephemeral material)")
	fs.BoolVar(&f.withoutClientCert, "without-client-cert", false, "Run the client without a certificate")
	fs.StringVar(&f.keyLogDir, "keylog-dir", "", "Directory for key-log files (default \"tmp\")")
	fs.DurationVar(&f.timeout, "timeout", 0, "Handshake milestone timeout (default 10s)")
	fs.BoolVar(&f.noTickets, "no-tickets", false, "Disable session tickets")
	fs.BoolVar(&f.jsonOut, "json", false, "Output JSON lines")
	fs.StringVar(&f.eventLog, "event-log", "", "File path for the CBOR event log (.tlog)")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file after the run")
	fs.BoolVar(&f.verbose, "verbose", false, "Enable verbose output")
	return fs, f
}

// apply copies explicitly set flags onto cfg.
func (f *flags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "listen":
			cfg.ListenAddress = f.listen
		case "idle-timeout":
			cfg.IdleTimeout = f.idleTimeout
		case "server-name":
			cfg.ServerName = f.serverName
		case "cert-dir":
			cfg.CertDir = f.certDir
		case "without-client-cert":
			cfg.WithoutClientCert = f.withoutClientCert
		case "keylog-dir":
			cfg.KeyLogDir = f.keyLogDir
		case "timeout":
			cfg.HandshakeTimeout = f.timeout
		case "no-tickets":
			tickets := !f.noTickets
			cfg.SessionTickets = &tickets
		case "json":
			if f.jsonOut {
				cfg.Output = config.OutputJSON
			} else {
				cfg.Output = config.OutputText
			}
		case "event-log":
			cfg.EventLog = f.eventLog
		case "metrics-file":
			cfg.MetricsFile = f.metricsFile
		case "verbose":
			cfg.Verbose = f.verbose
		}
	})
}

// loadConfig reads the optional file and applies flag overrides.
func loadConfig(args []string, stderr io.Writer) (*config.Config, error) {
	fs, f := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	cfg := config.Default()
	if f.configFile != "" {
		var err error
		if cfg, err = config.Load(f.configFile); err != nil {
			return nil, err
		}
	}
	f.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		if err != flag.ErrHelp {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 2
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	var rep reporter.Reporter
	if cfg.Output == config.OutputJSON {
		rep = reporter.NewJSONReporter(stdout)
	} else {
		rep = reporter.NewTextReporter(stdout, cfg.Verbose)
	}

	// Set up the event log if requested.
	var loggers []log.Logger
	if cfg.Verbose {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}
	if cfg.EventLog != "" {
		fl, err := log.NewTruncatingFileLogger(cfg.EventLog)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to create event log: %v\n", err)
			return 2
		}
		defer fl.Close()
		loggers = append(loggers, fl)
		logger.Info("event log", slog.String("path", cfg.EventLog))
	}

	r := harness.New(cfg, harness.Options{
		Reporter:    rep,
		EventLogger: log.NewMultiLogger(loggers...),
		Logger:      logger,
	})

	_, runErr := r.Run(ctx)

	if cfg.MetricsFile != "" {
		if err := r.Metrics().WriteToTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("metrics file", slog.Any("error", err))
		}
	}

	if runErr != nil {
		if harness.KindOf(runErr) == harness.KindConfig {
			return 2
		}
		return 1
	}
	return 0
}
