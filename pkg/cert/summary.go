package cert

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
)

// Summary renders a one-line description of a certificate for reporting.
// The certificate is described as observed; nothing is verified.
func Summary(c *x509.Certificate) string {
	if c == nil {
		return "<none>"
	}
	sum := sha256.Sum256(c.Raw)

	var b strings.Builder
	fmt.Fprintf(&b, "subject=%q issuer=%q", c.Subject.String(), c.Issuer.String())
	if len(c.DNSNames) > 0 {
		fmt.Fprintf(&b, " dns=%s", strings.Join(c.DNSNames, ","))
	}
	fmt.Fprintf(&b, " serial=%s notAfter=%s sha256=%s",
		c.SerialNumber.Text(16),
		c.NotAfter.UTC().Format("2006-01-02T15:04:05Z"),
		hex.EncodeToString(sum[:8]))
	return b.String()
}
