package keylog

import (
	"io"
	"sync"
)

// Sink is an append-only destination for raw key-material lines.
// Append is fire-and-forget: failures are swallowed by the implementation and
// must never abort a handshake.
type Sink interface {
	// Append records one key log line. Implementations must be thread-safe
	// and must not retain line after returning.
	Append(line []byte)
}

// Noop discards all lines. Use when key logging is disabled.
// Noop is safe for concurrent use and usable as a zero value.
type Noop struct{}

// Append discards the line.
func (Noop) Append([]byte) {}

// MemorySink keeps lines in memory. Useful in tests.
type MemorySink struct {
	mu    sync.Mutex
	lines [][]byte
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores a copy of the line.
func (s *MemorySink) Append(line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, append([]byte(nil), line...))
}

// Lines returns a snapshot of the stored lines.
func (s *MemorySink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.lines))
	for i, l := range s.lines {
		out[i] = string(l)
	}
	return out
}

// sinkWriter adapts a Sink to io.Writer for tls.Config.KeyLogWriter.
type sinkWriter struct {
	sink Sink
}

// Writer returns an io.Writer that appends every Write call to sink as one
// line. A nil sink yields a writer that discards everything.
func Writer(sink Sink) io.Writer {
	if sink == nil {
		sink = Noop{}
	}
	return &sinkWriter{sink: sink}
}

// Write appends p to the sink. It never fails.
func (w *sinkWriter) Write(p []byte) (int, error) {
	w.sink.Append(append([]byte(nil), p...))
	return len(p), nil
}

// Compile-time interface satisfaction checks.
var (
	_ Sink = Noop{}
	_ Sink = (*MemorySink)(nil)
	_ Sink = (*FileSink)(nil)
)
