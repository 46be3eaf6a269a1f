// Package log provides structured event capture for the harness.
//
// This package defines the Logger interface and Event types for recording
// what happened during a run at multiple layers (transport, TLS, harness).
// It is separate from operational logging (slog): the event log is a
// machine-readable trace for later analysis.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.EventLogger = log.NewSlogAdapter(slog.Default())
//
//	// For analysis: write to binary file
//	cfg.EventLogger, _ = log.NewFileLogger("run.tlog")
//
//	// Both: use MultiLogger
//	cfg.EventLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - StateChangeEvent: endpoint, session and listener lifecycle
//   - MilestoneEvent: handshake progress per role
//   - PayloadEvent: probe data sent and received
//   - ErrorEventData: failures with their classification
//
// # File Format
//
// Log files are a sequence of CBOR-encoded events (.tlog). The tlsloop-log
// tool provides viewing, filtering, export and statistics.
package log
