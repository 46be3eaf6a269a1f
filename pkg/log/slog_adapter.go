package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger at Debug level.
// Useful during development to see the trace on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event as a single "harness" record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.String("role", event.Role.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}
	if event.EndpointID != "" {
		attrs = append(attrs, slog.String("endpoint_id", event.EndpointID))
	}

	switch {
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Milestone != nil:
		attrs = append(attrs,
			slog.String("milestone", event.Milestone.Name),
			slog.Int("seq", event.Milestone.Seq),
			slog.Duration("elapsed", event.Milestone.Elapsed),
			slog.Int("attempts", event.Milestone.Attempts),
		)
		if event.Milestone.Detail != "" {
			attrs = append(attrs, slog.String("detail", event.Milestone.Detail))
		}
	case event.Payload != nil:
		attrs = append(attrs,
			slog.String("probe", event.Payload.Probe),
			slog.String("direction", event.Payload.Direction.String()),
			slog.Int("size", event.Payload.Size),
			slog.Bool("truncated", event.Payload.Truncated),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Kind != "" {
			attrs = append(attrs, slog.String("error_kind", event.Error.Kind))
		}
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "harness", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
