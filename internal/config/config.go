// Package config loads harness settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tlsloop/tlsloop-go/pkg/cert"
	"github.com/tlsloop/tlsloop-go/pkg/handshake"
	"github.com/tlsloop/tlsloop-go/pkg/poll"
	"github.com/tlsloop/tlsloop-go/pkg/transport"
)

// Output formats.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// DefaultKeyLogDir is where key-log files are written unless configured.
const DefaultKeyLogDir = "tmp"

// Config holds every harness setting.
type Config struct {
	// ListenAddress is the loopback address the passive side listens on.
	ListenAddress string `yaml:"listen_address"`

	// IdleTimeout closes the server-side socket after inactivity. Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// DialTimeout bounds the active side's connect.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// ServerName is the identity the client verifies.
	ServerName string `yaml:"server_name"`

	// CertDir holds ca/, server/ and client/ material. Empty means
	// ephemeral material is generated for the run.
	CertDir string `yaml:"cert_dir"`

	// WithoutClientCert runs the client without a certificate.
	WithoutClientCert bool `yaml:"without_client_cert"`

	// KeyLogDir receives the per-side key-log files.
	KeyLogDir string `yaml:"keylog_dir"`

	// HandshakeTimeout bounds each side's milestone wait.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// Poll tunes the milestone backoff.
	Poll PollConfig `yaml:"poll"`

	// SessionTickets enables resumption tickets. Defaults to true.
	SessionTickets *bool `yaml:"session_tickets"`

	// Output selects the console format: "text" or "json".
	Output string `yaml:"output"`

	// EventLog is a .tlog path for the CBOR event trace. Empty disables it.
	EventLog string `yaml:"event_log"`

	// MetricsFile receives a Prometheus text dump after the run.
	MetricsFile string `yaml:"metrics_file"`

	// Verbose enables debug-level operational logging.
	Verbose bool `yaml:"verbose"`
}

// PollConfig mirrors poll.Config without the clock.
type PollConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	tickets := true
	return &Config{
		ListenAddress:    transport.DefaultAddress,
		DialTimeout:      transport.DefaultDialTimeout,
		ServerName:       cert.DefaultServerName,
		KeyLogDir:        DefaultKeyLogDir,
		HandshakeTimeout: handshake.DefaultTimeout,
		Poll: PollConfig{
			InitialInterval: poll.DefaultInitialInterval,
			MaxInterval:     poll.DefaultMaxInterval,
			Multiplier:      poll.DefaultMultiplier,
		},
		SessionTickets: &tickets,
		Output:         OutputText,
	}
}

// TicketsEnabled reports whether session tickets are on.
func (c *Config) TicketsEnabled() bool {
	return c.SessionTickets == nil || *c.SessionTickets
}

// PollSettings converts the poll section.
func (c *Config) PollSettings() poll.Config {
	return poll.Config{
		InitialInterval: c.Poll.InitialInterval,
		MaxInterval:     c.Poll.MaxInterval,
		Multiplier:      c.Poll.Multiplier,
	}
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, &LoadError{Line: yamlErrorLine(err), Message: "failed to parse YAML", Cause: err}
	}

	cfg := Default()
	if root.Kind == 0 {
		return cfg, nil
	}
	if err := root.Decode(cfg); err != nil {
		return nil, &LoadError{Line: yamlErrorLine(err), Message: "invalid value", Cause: err}
	}

	if err := cfg.Validate(); err != nil {
		le := &LoadError{Message: err.Error(), Cause: err}
		var fe *FieldError
		if errors.As(err, &fe) {
			le.Line = keyLine(&root, fe.Field)
		}
		return nil, le
	}
	return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error(), Cause: err}
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if err := transport.CheckLoopback(c.ListenAddress); err != nil {
		return &FieldError{Field: "listen_address", Message: err.Error(), Err: err}
	}
	if c.ServerName == "" {
		return &FieldError{Field: "server_name", Message: "must not be empty"}
	}
	if c.KeyLogDir == "" {
		return &FieldError{Field: "keylog_dir", Message: "must not be empty"}
	}
	for field, d := range map[string]time.Duration{
		"idle_timeout":      c.IdleTimeout,
		"dial_timeout":      c.DialTimeout,
		"handshake_timeout": c.HandshakeTimeout,
	} {
		if d < 0 {
			return &FieldError{Field: field, Message: "must not be negative"}
		}
	}
	if c.Poll.InitialInterval < 0 || c.Poll.MaxInterval < 0 {
		return &FieldError{Field: "poll", Message: "intervals must not be negative"}
	}
	if c.Poll.MaxInterval > 0 && c.Poll.InitialInterval > c.Poll.MaxInterval {
		return &FieldError{Field: "poll", Message: "initial_interval exceeds max_interval"}
	}
	if c.Poll.Multiplier != 0 && c.Poll.Multiplier < 1 {
		return &FieldError{Field: "poll", Message: "multiplier must be at least 1"}
	}
	switch c.Output {
	case OutputText, OutputJSON:
	default:
		return &FieldError{Field: "output", Message: fmt.Sprintf("unknown format %q", c.Output)}
	}
	return nil
}
