// Package commands implements the tlsloop-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/tlsloop/tlsloop-go/pkg/log"
)

const timestampLayout = "2006-01-02T15:04:05.000000Z"

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [run:id] ROLE LAYER Type
	ts := event.Timestamp.UTC().Format(timestampLayout)
	fmt.Fprintf(w, "%s [run:%s] %-7s %-9s %s\n",
		ts, shortID(event.RunID), event.Role, event.Layer, typeLabel(event))

	switch {
	case event.StateChange != nil:
		formatStateChange(w, event.EndpointID, event.StateChange)
	case event.Milestone != nil:
		formatMilestone(w, event.Milestone)
	case event.Payload != nil:
		formatPayload(w, event.Payload)
	case event.Error != nil:
		formatError(w, event.Error)
	}

	fmt.Fprintln(w)
}

func typeLabel(event log.Event) string {
	switch {
	case event.StateChange != nil:
		return "State"
	case event.Milestone != nil:
		return event.Milestone.Name
	case event.Payload != nil:
		return "Payload"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortID returns the first 8 characters of a UUID.
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatStateChange(w io.Writer, endpointID string, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s", sc.Entity)
	if endpointID != "" {
		fmt.Fprintf(w, " (%s)", shortID(endpointID))
	}
	fmt.Fprintln(w)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  State: %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  State: %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatMilestone(w io.Writer, m *log.MilestoneEvent) {
	fmt.Fprintf(w, "  Seq: %d  Elapsed: %s  Attempts: %d\n",
		m.Seq, m.Elapsed.Round(time.Microsecond), m.Attempts)
	if m.Detail != "" {
		fmt.Fprintf(w, "  Detail: %s\n", m.Detail)
	}
}

func formatPayload(w io.Writer, p *log.PayloadEvent) {
	fmt.Fprintf(w, "  Probe: %s  Direction: %s  Size: %d bytes\n", p.Probe, p.Direction, p.Size)
	if len(p.Data) > 0 {
		fmt.Fprintf(w, "  Data: %q", p.Data)
		if p.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Hex: %s\n", hex.EncodeToString(p.Data))
	}
}

func formatError(w io.Writer, e *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", e.Layer)
	if e.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", e.Kind)
	}
	fmt.Fprintf(w, "  Message: %s\n", e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}

// RunView prints matching events from the log file.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
