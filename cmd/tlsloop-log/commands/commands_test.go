package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tlsloop/tlsloop-go/pkg/log"
)

var base = time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)

// createTestLogFile writes events to a temporary .tlog file.
func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.tlog")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, ev := range events {
		logger.Log(ev)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return path
}

func sampleEvents() []log.Event {
	return []log.Event{
		{
			Timestamp: base, RunID: "abc12345-6789-0123-4567-890abcdef012",
			Role: log.RoleServer, Layer: log.LayerTransport, Category: log.CategoryState,
			EndpointID:  "ep000001-aaaa",
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityEndpoint, OldState: "CONNECTING", NewState: "CONNECTED"},
		},
		{
			Timestamp: base.Add(time.Millisecond), RunID: "abc12345-6789-0123-4567-890abcdef012",
			Role: log.RoleClient, Layer: log.LayerTransport, Category: log.CategoryPayload,
			Payload: log.NewPayloadEvent("plaintext", log.DirectionIn, []byte("Hello from server")),
		},
		{
			Timestamp: base.Add(2 * time.Millisecond), RunID: "abc12345-6789-0123-4567-890abcdef012",
			Role: log.RoleServer, Layer: log.LayerTLS, Category: log.CategoryMilestone,
			Milestone: &log.MilestoneEvent{Name: "LocalFinishedSent", Seq: 2, Elapsed: 1500 * time.Microsecond, Attempts: 3, Detail: "a1b2"},
		},
		{
			Timestamp: base.Add(3 * time.Millisecond), RunID: "abc12345-6789-0123-4567-890abcdef012",
			Role: log.RoleClient, Layer: log.LayerTLS, Category: log.CategoryMilestone,
			Milestone: &log.MilestoneEvent{Name: "PeerFinishedReceived", Seq: 3, Elapsed: 4 * time.Millisecond, Attempts: 5},
		},
		{
			Timestamp: base.Add(time.Second), RunID: "def67890-0000",
			Role: log.RoleHarness, Layer: log.LayerHarness, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerTransport, Message: "listen: not loopback", Kind: "transport", Context: "establish"},
		},
	}
}

// ============================================================================
// view
// ============================================================================

func TestFormatMilestoneEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[2])
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:32.125456Z",
		"[run:abc12345]",
		"SERVER",
		"TLS",
		"LocalFinishedSent",
		"Seq: 2",
		"Attempts: 3",
		"Detail: a1b2",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestFormatStateAndPayload(t *testing.T) {
	events := sampleEvents()

	var buf bytes.Buffer
	formatEvent(&buf, events[0])
	if !strings.Contains(buf.String(), "State: CONNECTING -> CONNECTED") {
		t.Errorf("missing state transition, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "Entity: ENDPOINT (ep000001)") {
		t.Errorf("missing entity, got:\n%s", buf.String())
	}

	buf.Reset()
	formatEvent(&buf, events[1])
	if !strings.Contains(buf.String(), `Data: "Hello from server"`) {
		t.Errorf("missing payload data, got:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "Size: 17 bytes") {
		t.Errorf("missing payload size, got:\n%s", buf.String())
	}
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	filter, err := FilterFlags{Category: "milestone"}.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := RunView(path, filter, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	output := buf.String()
	if !strings.Contains(output, "LocalFinishedSent") || !strings.Contains(output, "PeerFinishedReceived") {
		t.Errorf("expected both milestones, got:\n%s", output)
	}
	if strings.Contains(output, "Payload") || strings.Contains(output, "Error") {
		t.Errorf("filtered events leaked into output:\n%s", output)
	}
}

func TestRunViewMissingFile(t *testing.T) {
	err := RunView(filepath.Join(t.TempDir(), "nope.tlog"), log.Filter{}, &bytes.Buffer{})
	if err == nil {
		t.Error("expected error for missing file")
	}
}

// ============================================================================
// flags
// ============================================================================

func TestFilterFlagsBuild(t *testing.T) {
	f, err := FilterFlags{
		RunID:     "run-1",
		Role:      "Client",
		Layer:     "TLS",
		Category:  "payload",
		TimeStart: "2026-01-28T10:00:00Z",
		TimeEnd:   "2026-01-28T11:00:00Z",
	}.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if f.RunID != "run-1" {
		t.Errorf("RunID: got %q", f.RunID)
	}
	if f.Role == nil || *f.Role != log.RoleClient {
		t.Errorf("Role: got %v", f.Role)
	}
	if f.Layer == nil || *f.Layer != log.LayerTLS {
		t.Errorf("Layer: got %v", f.Layer)
	}
	if f.Category == nil || *f.Category != log.CategoryPayload {
		t.Errorf("Category: got %v", f.Category)
	}
	if f.TimeStart == nil || f.TimeEnd == nil || !f.TimeEnd.After(*f.TimeStart) {
		t.Errorf("time window: got %v..%v", f.TimeStart, f.TimeEnd)
	}
}

func TestFilterFlagsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		flags FilterFlags
	}{
		{"role", FilterFlags{Role: "proxy"}},
		{"layer", FilterFlags{Layer: "wire"}},
		{"category", FilterFlags{Category: "frame"}},
		{"time-start", FilterFlags{TimeStart: "yesterday"}},
		{"time-end", FilterFlags{TimeEnd: "2026-13-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.flags.Build(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

// ============================================================================
// export
// ============================================================================

func TestRunExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, log.Filter{}, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want 5", len(lines))
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[2]), &rec); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if rec["role"] != "SERVER" || rec["category"] != "MILESTONE" {
		t.Errorf("unexpected record: %v", rec)
	}
	m, ok := rec["milestone"].(map[string]any)
	if !ok {
		t.Fatalf("milestone missing: %v", rec)
	}
	if m["elapsed_us"] != float64(1500) {
		t.Errorf("elapsed_us: got %v, want 1500", m["elapsed_us"])
	}
}

func TestRunExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	role := log.RoleClient
	if err := RunExport(path, log.Filter{Role: &role}, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("csv ReadAll failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	if rows[0][0] != "timestamp" {
		t.Errorf("header: got %v", rows[0])
	}
	if rows[1][7] != "Hello from server" {
		t.Errorf("payload detail: got %q", rows[1][7])
	}
	if rows[2][6] != "PeerFinishedReceived" || rows[2][7] != "4000us" {
		t.Errorf("milestone row: got %v", rows[2])
	}
}

func TestRunExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	if err := RunExport(path, log.Filter{}, "xml", filepath.Join(t.TempDir(), "out")); err == nil {
		t.Error("expected error for unknown format")
	}
}

// ============================================================================
// filter
// ============================================================================

func TestRunFilterWritesSubset(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.tlog")

	n, err := RunFilter(path, out, log.Filter{RunID: "def67890-0000"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 1 {
		t.Errorf("count: got %d, want 1", n)
	}

	r, err := log.NewReader(out)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()
	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(events) != 1 || events[0].Error == nil {
		t.Errorf("got %+v, want the error event", events)
	}
}

// ============================================================================
// stats
// ============================================================================

func TestRunStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 5",
		"SERVER:",
		"TLS:",
		"MILESTONE:",
		"Runs: 2",
		"[abc12345] 4 events",
		"Milestones: server 1, client 1",
		"Slowest: CLIENT PeerFinishedReceived (4ms)",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestRunStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("got:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "Time Range") {
		t.Error("empty log should not print a time range")
	}
}
