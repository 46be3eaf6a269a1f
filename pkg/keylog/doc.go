// Package keylog provides append-only sinks for TLS key material lines.
//
// The TLS engine emits one line per derived secret in the NSS key log format
// (LABEL <client_random> <secret>). A Sink receives each line verbatim as it
// is produced; nothing in the harness reads it back. The lines are meant for
// offline inspection, for example to decrypt a packet capture of a run.
//
// # Basic Usage
//
//	server, client, err := keylog.OpenPair("tmp")
//	if err != nil {
//	    return err
//	}
//	defer server.Close()
//	defer client.Close()
//
//	cfg.KeyLogWriter = keylog.Writer(server)
//
// Use Noop when key logging is disabled.
package keylog
