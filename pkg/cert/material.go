package cert

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Validity periods used when generating harness material.
const (
	// CAValidity is the validity period of the generated CA certificate.
	CAValidity = 10 * 365 * 24 * time.Hour

	// LeafValidity is the validity period of generated server and client leaves.
	LeafValidity = 365 * 24 * time.Hour
)

// DefaultServerName is the identity the server certificate is issued for.
const DefaultServerName = "local.example"

// Material errors.
var (
	ErrMissingCA         = errors.New("CA certificate missing")
	ErrMissingServerCert = errors.New("server certificate or key missing")
	ErrNoClientCert      = errors.New("no client certificate in material")
	ErrInvalidCert       = errors.New("invalid certificate")
)

// Material holds the PEM buffers the harness builds its TLS contexts from.
// The buffers are opaque until one of the helpers parses them.
type Material struct {
	// CA is the PEM-encoded CA certificate both sides trust.
	CA []byte

	// ServerCert and ServerKey are the server's certificate and private key.
	ServerCert []byte
	ServerKey  []byte

	// ClientCert and ClientKey are the client's certificate and private key.
	// Both empty means the client presents no certificate.
	ClientCert []byte
	ClientKey  []byte
}

// CAPool returns a certificate pool containing the CA certificate.
func (m *Material) CAPool() (*x509.CertPool, error) {
	if len(m.CA) == 0 {
		return nil, ErrMissingCA
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(m.CA) {
		return nil, fmt.Errorf("%w: CA is not a PEM certificate", ErrInvalidPEM)
	}
	return pool, nil
}

// CACertificate parses the CA certificate.
func (m *Material) CACertificate() (*x509.Certificate, error) {
	if len(m.CA) == 0 {
		return nil, ErrMissingCA
	}
	return DecodeCertPEM(m.CA)
}

// ServerKeyPair returns the server certificate and key as a tls.Certificate.
func (m *Material) ServerKeyPair() (tls.Certificate, error) {
	if len(m.ServerCert) == 0 || len(m.ServerKey) == 0 {
		return tls.Certificate{}, ErrMissingServerCert
	}
	return loadKeyPair(m.ServerCert, m.ServerKey)
}

// ClientKeyPair returns the client certificate and key as a tls.Certificate.
func (m *Material) ClientKeyPair() (tls.Certificate, error) {
	if !m.HasClientCert() {
		return tls.Certificate{}, ErrNoClientCert
	}
	return loadKeyPair(m.ClientCert, m.ClientKey)
}

// HasClientCert reports whether the client presents a certificate.
func (m *Material) HasClientCert() bool {
	return len(m.ClientCert) > 0 && len(m.ClientKey) > 0
}

// WithoutClientCert returns a copy of the material with the client
// certificate and key removed.
func (m *Material) WithoutClientCert() *Material {
	c := *m
	c.ClientCert = nil
	c.ClientKey = nil
	return &c
}

// Validate checks that the server certificate chains to the CA for the
// given server name, the way the client engine will check it.
func (m *Material) Validate(serverName string) error {
	ca, err := m.CACertificate()
	if err != nil {
		return err
	}
	pair, err := m.ServerKeyPair()
	if err != nil {
		return err
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCert, err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca)
	opts := x509.VerifyOptions{
		DNSName:   serverName,
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return fmt.Errorf("%w: server certificate: %v", ErrInvalidCert, err)
	}
	return nil
}

func loadKeyPair(certPEM, keyPEM []byte) (tls.Certificate, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return pair, nil
}
