package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readAll(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	r, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer r.Close()

	events, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return events
}

// createTestLogFile writes a small two-run trace and returns its path.
func createTestLogFile(t *testing.T) (string, time.Time) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.tlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer logger.Close()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	events := []Event{
		{RunID: "run-a", Role: RoleServer, Layer: LayerTransport, Category: CategoryState, EndpointID: "ep-1",
			StateChange: &StateChangeEvent{Entity: StateEntityEndpoint, NewState: "CONNECTED"}},
		{RunID: "run-a", Role: RoleClient, Layer: LayerTransport, Category: CategoryPayload, EndpointID: "ep-2",
			Payload: NewPayloadEvent("plaintext", DirectionOut, []byte("Hello from client"))},
		{RunID: "run-a", Role: RoleServer, Layer: LayerTLS, Category: CategoryMilestone,
			Milestone: &MilestoneEvent{Name: "SessionEstablished", Seq: 0}},
		{RunID: "run-a", Role: RoleClient, Layer: LayerTLS, Category: CategoryMilestone,
			Milestone: &MilestoneEvent{Name: "SessionEstablished", Seq: 0}},
		{RunID: "run-b", Role: RoleHarness, Layer: LayerHarness, Category: CategoryError,
			Error: &ErrorEventData{Layer: LayerHarness, Message: "boom", Kind: "transport"}},
	}
	for i, ev := range events {
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		logger.Log(ev)
	}
	return path, base
}

func TestReaderReadsAll(t *testing.T) {
	path, _ := createTestLogFile(t)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	count := 0
	for {
		_, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		count++
	}
	if count != 5 {
		t.Errorf("got %d events, want 5", count)
	}
}

func TestReaderFilters(t *testing.T) {
	path, base := createTestLogFile(t)

	server := RoleServer
	tlsLayer := LayerTLS
	milestone := CategoryMilestone
	start := base.Add(1 * time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"run", Filter{RunID: "run-a"}, 4},
		{"role", Filter{Role: &server}, 2},
		{"layer", Filter{Layer: &tlsLayer}, 2},
		{"category", Filter{Category: &milestone}, 2},
		{"endpoint", Filter{EndpointID: "ep-2"}, 1},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{RunID: "run-a", Role: &server, Category: &milestone}, 1},
		{"no match", Filter{RunID: "run-z"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(readAll(t, path, tt.filter)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderTruncatedTail(t *testing.T) {
	path, _ := createTestLogFile(t)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()

	events, err := r.ReadAll()
	if err == nil {
		t.Fatal("expected error for truncated tail")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("got %v, want io.ErrUnexpectedEOF", err)
	}
	if len(events) != 4 {
		t.Errorf("got %d complete events, want 4", len(events))
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "nope.tlog")); err == nil {
		t.Error("expected error for missing file")
	}
}
