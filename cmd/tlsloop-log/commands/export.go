package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tlsloop/tlsloop-go/pkg/log"
)

// RunExport exports matching events to jsonl or csv.
func RunExport(path string, filter log.Filter, format, output string) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

// jsonEvent flattens enums to their names.
type jsonEvent struct {
	Timestamp   string              `json:"timestamp"`
	RunID       string              `json:"run_id"`
	Role        string              `json:"role"`
	Layer       string              `json:"layer"`
	Category    string              `json:"category"`
	EndpointID  string              `json:"endpoint_id,omitempty"`
	StateChange *jsonStateChange    `json:"state_change,omitempty"`
	Milestone   *jsonMilestone      `json:"milestone,omitempty"`
	Payload     *jsonPayload        `json:"payload,omitempty"`
	Error       *jsonError          `json:"error,omitempty"`
}

type jsonStateChange struct {
	Entity   string `json:"entity"`
	OldState string `json:"old_state,omitempty"`
	NewState string `json:"new_state"`
	Reason   string `json:"reason,omitempty"`
}

type jsonMilestone struct {
	Name      string `json:"name"`
	Seq       int    `json:"seq"`
	ElapsedUS int64  `json:"elapsed_us"`
	Attempts  int    `json:"attempts,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type jsonPayload struct {
	Probe     string `json:"probe"`
	Direction string `json:"direction"`
	Size      int    `json:"size"`
	Data      string `json:"data,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

type jsonError struct {
	Layer   string `json:"layer"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	Context string `json:"context,omitempty"`
}

func toJSON(ev log.Event) jsonEvent {
	je := jsonEvent{
		Timestamp:  ev.Timestamp.UTC().Format(timestampLayout),
		RunID:      ev.RunID,
		Role:       ev.Role.String(),
		Layer:      ev.Layer.String(),
		Category:   ev.Category.String(),
		EndpointID: ev.EndpointID,
	}
	if m := ev.Milestone; m != nil {
		je.Milestone = &jsonMilestone{Name: m.Name, Seq: m.Seq, ElapsedUS: m.Elapsed.Microseconds(), Attempts: m.Attempts, Detail: m.Detail}
	}
	if sc := ev.StateChange; sc != nil {
		je.StateChange = &jsonStateChange{Entity: sc.Entity.String(), OldState: sc.OldState, NewState: sc.NewState, Reason: sc.Reason}
	}
	if p := ev.Payload; p != nil {
		je.Payload = &jsonPayload{Probe: p.Probe, Direction: p.Direction.String(), Size: p.Size, Data: string(p.Data), Truncated: p.Truncated}
	}
	if e := ev.Error; e != nil {
		je.Error = &jsonError{Layer: e.Layer.String(), Message: e.Message, Kind: e.Kind, Context: e.Context}
	}
	return je
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(toJSON(event)); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "run_id", "role", "layer", "category", "endpoint_id", "type", "detail"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var detail string
		switch {
		case event.StateChange != nil:
			detail = event.StateChange.NewState
		case event.Milestone != nil:
			detail = strconv.FormatInt(event.Milestone.Elapsed.Microseconds(), 10) + "us"
		case event.Payload != nil:
			detail = string(event.Payload.Data)
		case event.Error != nil:
			detail = event.Error.Message
		}

		row := []string{
			event.Timestamp.UTC().Format(timestampLayout),
			event.RunID,
			event.Role.String(),
			event.Layer.String(),
			event.Category.String(),
			event.EndpointID,
			typeLabel(event),
			detail,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
