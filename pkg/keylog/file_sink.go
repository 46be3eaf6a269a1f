package keylog

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
)

// File names used by OpenPair.
const (
	ServerFileName = "server-ssl-keys.log"
	ClientFileName = "client-ssl-keys.log"
)

// FileSink appends key log lines to a file.
// It is safe for concurrent use from multiple goroutines.
type FileSink struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

// NewFileSink creates a FileSink that writes to path. An existing file is
// truncated, so every run starts with a fresh key log. The file is created
// with permissions 0600 because it holds session secrets.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

// Append writes the line to the file.
// This method is safe for concurrent use.
func (s *FileSink) Append(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	// Ignore write errors - key logging should not disrupt the handshake
	_, _ = s.file.Write(line)
}

// Path returns the file path.
func (s *FileSink) Path() string {
	return s.file.Name()
}

// Close closes the file.
// It is safe to call Close multiple times.
// After Close is called, subsequent Append calls are silently ignored.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.file.Close()
}

// OpenPair opens the server and client key log files inside dir, creating the
// directory if it does not exist yet.
func OpenPair(dir string) (server, client *FileSink, err error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, nil, err
	}

	server, err = NewFileSink(filepath.Join(dir, ServerFileName))
	if err != nil {
		return nil, nil, err
	}
	client, err = NewFileSink(filepath.Join(dir, ClientFileName))
	if err != nil {
		return nil, nil, multierr.Append(err, server.Close())
	}
	return server, client, nil
}
