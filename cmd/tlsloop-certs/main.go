// Command tlsloop-certs writes a CA, server and client certificate set in
// the directory layout tlsloop -cert-dir expects.
//
// Usage:
//
//	tlsloop-certs [flags]
//
// Flags:
//
//	-dir string          Output directory (default "certs")
//	-server-name string  DNS name for the server certificate (default "local.example")
//	-org string          Subject organization (default "tlsloop")
//	-without-client      Skip the client certificate
//	-show                Print the stored certificates instead of generating
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tlsloop/tlsloop-go/pkg/cert"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tlsloop-certs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "certs", "Output directory")
	serverName := fs.String("server-name", cert.DefaultServerName, "DNS name for the server certificate")
	org := fs.String("org", "", "Subject organization (default \"tlsloop\")")
	withoutClient := fs.Bool("without-client", false, "Skip the client certificate")
	show := fs.Bool("show", false, "Print the stored certificates instead of generating")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store := cert.NewFileStore(*dir)

	if *show {
		m, err := store.Load()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := describe(stdout, m); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	m, err := cert.Generate(cert.GenerateOptions{
		ServerName:    *serverName,
		Organization:  *org,
		WithoutClient: *withoutClient,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := store.Save(m); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Wrote certificates to %s\n", store.Dir())
	if err := describe(stdout, m); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func describe(w io.Writer, m *cert.Material) error {
	entries := []struct {
		label string
		pem   []byte
	}{
		{"ca", m.CA},
		{"server", m.ServerCert},
		{"client", m.ClientCert},
	}
	for _, e := range entries {
		if len(e.pem) == 0 {
			fmt.Fprintf(w, "  %-7s %s\n", e.label+":", "absent")
			continue
		}
		c, err := cert.DecodeCertPEM(e.pem)
		if err != nil {
			return fmt.Errorf("%s: %w", e.label, err)
		}
		fmt.Fprintf(w, "  %-7s %s\n", e.label+":", cert.Summary(c))
	}
	return nil
}
