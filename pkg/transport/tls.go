package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
)

// TLSConfig holds configuration for the harness TLS sessions.
type TLSConfig struct {
	// Certificate is the TLS certificate for this side. Required for the
	// server; optional for the client.
	Certificate tls.Certificate

	// RootCAs is the pool the client verifies the server against.
	RootCAs *x509.CertPool

	// ClientCAs is advertised by the server in its certificate request.
	// Client certificates are not verified against it.
	ClientCAs *x509.CertPool

	// ServerName is the identity the client expects from the server.
	ServerName string

	// KeyLogWriter receives NSS key log lines.
	KeyLogWriter io.Writer

	// SessionTickets enables session tickets.
	SessionTickets bool

	// ClientSessionCache stores tickets on the client (optional).
	ClientSessionCache tls.ClientSessionCache
}

// curvePreferences lists key exchange groups in preference order.
var curvePreferences = []tls.CurveID{
	tls.X25519,    // Recommended
	tls.CurveP256, // Mandatory
}

// NewServerTLSConfig creates a TLS configuration for the server role.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, ErrTLSConfigNeeded
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	return &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		// Request a client certificate without requiring or verifying it
		ClientAuth: tls.RequestClientCert,

		Certificates: []tls.Certificate{cfg.Certificate},
		ClientCAs:    cfg.ClientCAs,

		CurvePreferences: curvePreferences,

		SessionTicketsDisabled: !cfg.SessionTickets,

		KeyLogWriter: cfg.KeyLogWriter,
	}, nil
}

// NewClientTLSConfig creates a TLS configuration for the client role.
// The engine verifies the server certificate against RootCAs for ServerName.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, ErrTLSConfigNeeded
	}
	if cfg.ServerName == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.RootCAs == nil {
		return nil, fmt.Errorf("root CA pool is required")
	}

	tlsConfig := &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,
		MaxVersion: tls.VersionTLS13,

		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,

		CurvePreferences: curvePreferences,

		SessionTicketsDisabled: !cfg.SessionTickets,
		KeyLogWriter:           cfg.KeyLogWriter,
	}

	// A client without a certificate answers the request with an empty list
	if len(cfg.Certificate.Certificate) > 0 {
		tlsConfig.Certificates = []tls.Certificate{cfg.Certificate}
	}
	if cfg.SessionTickets {
		tlsConfig.ClientSessionCache = cfg.ClientSessionCache
	}

	return tlsConfig, nil
}

// VerifyTLS13 checks that a TLS connection is using TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	return nil
}

// VersionString returns the name of a TLS protocol version.
func VersionString(v uint16) string {
	return tls.VersionName(v)
}

// CipherSuiteString returns the IANA name of a cipher suite.
func CipherSuiteString(id uint16) string {
	return tls.CipherSuiteName(id)
}
