// Package probe exchanges one fixed message in each direction over a pair
// of streams, before and after TLS is layered on top.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tlsloop/tlsloop-go/pkg/transport"
)

// Probe payloads.
const (
	ClientHello       = "Hello from client"
	ServerHello       = "Hello from server"
	SecureClientHello = "Hello from client in TLS"
	SecureServerHello = "Hello from server in TLS"
)

// readBufferSize bounds the single read on each side.
const readBufferSize = 64 * 1024

// Result holds what each side read.
type Result struct {
	// FromServer is what the client read.
	FromServer []byte

	// FromClient is what the server read.
	FromClient []byte
}

// Exchange concurrently writes serverMsg from the server side and clientMsg
// from the client side, and performs exactly one read on each side. There is
// no framing: each read returns whatever bytes are available. The first
// failure wins and interrupts the rest.
//
// Streams that support deadlines get ctx's deadline for the duration of the
// exchange; a cancelled ctx or a failed operation unblocks them.
func Exchange(ctx context.Context, server, client io.ReadWriter, serverMsg, clientMsg []byte) (*Result, error) {
	var setters []transport.DeadlineSetter
	for _, rw := range []io.ReadWriter{server, client} {
		if ds, ok := rw.(transport.DeadlineSetter); ok {
			setters = append(setters, ds)
		}
	}
	if d, ok := ctx.Deadline(); ok {
		for _, ds := range setters {
			_ = ds.SetDeadline(d)
		}
	}

	// Past deadlines unblock every pending read and write.
	var interruptOnce sync.Once
	interrupt := func() {
		interruptOnce.Do(func() {
			for _, ds := range setters {
				_ = ds.SetDeadline(time.Unix(1, 0))
			}
		})
	}
	stop := context.AfterFunc(ctx, interrupt)

	var g errgroup.Group
	run := func(fn func() error) {
		g.Go(func() error {
			err := fn()
			if err != nil {
				interrupt()
			}
			return err
		})
	}

	res := &Result{}
	run(func() error { return write(server, "server", serverMsg) })
	run(func() error { return write(client, "client", clientMsg) })
	run(func() (err error) {
		res.FromServer, err = readOnce(client, "client")
		return err
	})
	run(func() (err error) {
		res.FromClient, err = readOnce(server, "server")
		return err
	})

	err := g.Wait()
	if stopped := stop(); stopped && err == nil {
		for _, ds := range setters {
			_ = ds.SetDeadline(time.Time{})
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, err
	}
	return res, nil
}

func write(w io.Writer, side string, msg []byte) error {
	if _, err := w.Write(msg); err != nil {
		return &ProbeError{Side: side, Op: "write", Err: err}
	}
	return nil
}

func readOnce(r io.Reader, side string) ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return nil, &ProbeError{Side: side, Op: "read", Err: err}
}

// Plaintext runs the plaintext exchange on a raw transport pair.
func Plaintext(ctx context.Context, pair *transport.Pair) (*Result, error) {
	return Exchange(ctx, pair.Passive, pair.Active, []byte(ServerHello), []byte(ClientHello))
}

// Secure runs the exchange over established TLS sessions.
func Secure(ctx context.Context, server, client io.ReadWriter) (*Result, error) {
	return Exchange(ctx, server, client, []byte(SecureServerHello), []byte(SecureClientHello))
}

// Verify checks that each side read exactly what the other wrote.
func Verify(res *Result, wantFromServer, wantFromClient string) error {
	if !bytes.Equal(res.FromServer, []byte(wantFromServer)) {
		return fmt.Errorf("%w: client read %q, want %q", ErrPayloadMismatch, res.FromServer, wantFromServer)
	}
	if !bytes.Equal(res.FromClient, []byte(wantFromClient)) {
		return fmt.Errorf("%w: server read %q, want %q", ErrPayloadMismatch, res.FromClient, wantFromClient)
	}
	return nil
}
