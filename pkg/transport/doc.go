// Package transport provides the loopback byte-stream layer of the harness.
//
// The transport layer handles:
//   - Binding an ephemeral loopback port and establishing exactly one
//     connected pair of endpoints (passive = accepted, active = dialed)
//   - Symmetric end-of-stream propagation and close hooks
//   - An optional idle timeout on the passive endpoint
//   - TLS 1.3 configuration builders for both roles
//
// # Layering
//
//	┌────────────────────────────────┐
//	│   probes / TLS sessions        │
//	├────────────────────────────────┤
//	│         TLS 1.3                │
//	├────────────────────────────────┤
//	│   Endpoint (net.Conn)          │
//	├────────────────────────────────┤
//	│     TCP on 127.0.0.1           │
//	└────────────────────────────────┘
//
// # TLS Requirements
//
// TLS 1.3 only, no fallback. The server requests a client certificate but
// neither requires nor verifies it; the client verifies the server identity
// against the configured CA pool. Key exchange prefers X25519, then P-256.
//
// # Closure
//
// When an endpoint reads end of stream it half-closes its own write side and
// then closes, so the peer observes end of stream in turn. Closing the
// passive endpoint closes the listener it was accepted from.
package transport
