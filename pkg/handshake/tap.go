package handshake

import (
	"crypto/tls"
	"io"
	"net"

	"github.com/tlsloop/tlsloop-go/pkg/keylog"
)

// tapConn sits between the TLS engine and the endpoint and copies every
// byte that crosses it into the observer.
type tapConn struct {
	net.Conn
	obs *observer
}

func newTapConn(conn net.Conn, obs *observer) *tapConn {
	return &tapConn{Conn: conn, obs: obs}
}

// Read reads from the endpoint and feeds the bytes read to the observer.
func (c *tapConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.obs.read(p[:n])
	}
	return n, err
}

// Write writes to the endpoint and feeds the bytes written to the observer.
func (c *tapConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.obs.written(p[:n])
	}
	return n, err
}

// keyLogTee forwards engine key log lines to the sink and the observer.
type keyLogTee struct {
	sink io.Writer
	obs  *observer
}

func newKeyLogTee(sink keylog.Sink, obs *observer) *keyLogTee {
	return &keyLogTee{sink: keylog.Writer(sink), obs: obs}
}

// Write implements io.Writer. The engine writes one complete line per call.
func (t *keyLogTee) Write(line []byte) (int, error) {
	if _, err := t.sink.Write(line); err != nil {
		return 0, err
	}
	t.obs.keyLog(line)
	return len(line), nil
}

// ticketCache wraps a client session cache and reports every new ticket.
type ticketCache struct {
	tls.ClientSessionCache
	onTicket func()
}

// Put stores the session and reports it when it carries a ticket.
func (c *ticketCache) Put(key string, cs *tls.ClientSessionState) {
	c.ClientSessionCache.Put(key, cs)
	if cs != nil && c.onTicket != nil {
		c.onTicket()
	}
}
