package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// GenerateOptions controls Generate.
type GenerateOptions struct {
	// ServerName is the DNS name the server certificate is issued for
	// (default: DefaultServerName).
	ServerName string

	// Organization is placed in every subject (default: "tlsloop").
	Organization string

	// WithoutClient skips the client certificate.
	WithoutClient bool

	// Now overrides the issuing time (default: time.Now).
	Now time.Time
}

// Generate creates a fresh ECDSA P-256 CA with a server leaf and, unless
// disabled, a client leaf signed by it.
func Generate(opts GenerateOptions) (*Material, error) {
	if opts.ServerName == "" {
		opts.ServerName = DefaultServerName
	}
	if opts.Organization == "" {
		opts.Organization = "tlsloop"
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate CA key: %w", err)
	}
	caTemplate := &x509.Certificate{
		Subject: pkix.Name{
			CommonName:   opts.Organization + " Loopback CA",
			Organization: []string{opts.Organization},
		},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(CAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}
	caCert, err := issue(caTemplate, nil, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("create CA certificate: %w", err)
	}

	m := &Material{CA: EncodeCertPEM(caCert)}

	m.ServerCert, m.ServerKey, err = issueLeaf(caCert, caKey, &x509.Certificate{
		Subject: pkix.Name{
			CommonName:   opts.ServerName,
			Organization: []string{opts.Organization},
		},
		DNSNames:    []string{opts.ServerName},
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(LeafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	})
	if err != nil {
		return nil, fmt.Errorf("server certificate: %w", err)
	}

	if opts.WithoutClient {
		return m, nil
	}

	m.ClientCert, m.ClientKey, err = issueLeaf(caCert, caKey, &x509.Certificate{
		Subject: pkix.Name{
			CommonName:   "client." + opts.ServerName,
			Organization: []string{opts.Organization},
		},
		NotBefore:   now.Add(-time.Hour),
		NotAfter:    now.Add(LeafValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		return nil, fmt.Errorf("client certificate: %w", err)
	}

	return m, nil
}

// issueLeaf generates a key for template and signs it with the CA.
func issueLeaf(ca *x509.Certificate, caKey *ecdsa.PrivateKey, template *x509.Certificate) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	leaf, err := issue(template, ca, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err = EncodeKeyPEM(key)
	if err != nil {
		return nil, nil, err
	}
	return EncodeCertPEM(leaf), keyPEM, nil
}

// issue signs template with signerKey. A nil parent self-signs.
func issue(template, parent *x509.Certificate, pub *ecdsa.PublicKey, signerKey *ecdsa.PrivateKey) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}
	template.SerialNumber = serial
	if parent == nil {
		parent = template
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, signerKey)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}
