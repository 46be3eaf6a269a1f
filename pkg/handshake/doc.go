// Package handshake drives TLS 1.3 handshakes over transport endpoints and
// observes their progress.
//
// The standard TLS engine performs the handshake; this package watches it
// from the outside. Each Session places a record tap between the engine and
// its endpoint and tees the engine's key log. From the plaintext hello
// messages, and from the handshake records decrypted with the logged
// handshake traffic secrets, the tap reconstructs four milestones per side:
//
//	SessionEstablished       ServerHello seen, both handshake secrets logged
//	LocalFinishedSent        own Finished written to the endpoint
//	PeerFinishedReceived     peer Finished read from the endpoint
//	PeerCertificateObserved  peer leaf certificate, or its absence
//
// Driver.AwaitHandshake waits for the milestones with pkg/poll, woken by the
// tap whenever something changes and bounded by a timeout. The peer
// certificate is reported as observed and is never verified here; the
// client engine still verifies the server identity.
//
// Example:
//
//	d, _ := handshake.NewDriver(handshake.Config{}, material)
//	server, _ := d.NewServerSession(pair.Passive, serverSink)
//	client, _ := d.NewClientSession(pair.Active, clientSink)
//	srvOut, cliOut, err := d.Handshake(ctx, server, client)
package handshake
