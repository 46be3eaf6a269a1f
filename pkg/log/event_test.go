package log

import (
	"bytes"
	"testing"
	"time"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"role server", RoleServer.String(), "SERVER"},
		{"role client", RoleClient.String(), "CLIENT"},
		{"role harness", RoleHarness.String(), "HARNESS"},
		{"role unknown", Role(9).String(), "UNKNOWN"},
		{"layer transport", LayerTransport.String(), "TRANSPORT"},
		{"layer tls", LayerTLS.String(), "TLS"},
		{"layer harness", LayerHarness.String(), "HARNESS"},
		{"layer unknown", Layer(9).String(), "UNKNOWN"},
		{"category state", CategoryState.String(), "STATE"},
		{"category milestone", CategoryMilestone.String(), "MILESTONE"},
		{"category payload", CategoryPayload.String(), "PAYLOAD"},
		{"category error", CategoryError.String(), "ERROR"},
		{"category unknown", Category(9).String(), "UNKNOWN"},
		{"direction in", DirectionIn.String(), "IN"},
		{"direction out", DirectionOut.String(), "OUT"},
		{"direction unknown", Direction(9).String(), "UNKNOWN"},
		{"entity endpoint", StateEntityEndpoint.String(), "ENDPOINT"},
		{"entity session", StateEntitySession.String(), "SESSION"},
		{"entity listener", StateEntityListener.String(), "LISTENER"},
		{"entity unknown", StateEntity(9).String(), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNewPayloadEventCopies(t *testing.T) {
	data := []byte("Hello from client")
	ev := NewPayloadEvent("plaintext", DirectionOut, data)
	data[0] = 'X'

	if ev.Size != 17 {
		t.Errorf("Size: got %d, want 17", ev.Size)
	}
	if ev.Truncated {
		t.Error("short payload marked truncated")
	}
	if string(ev.Data) != "Hello from client" {
		t.Errorf("Data: got %q", ev.Data)
	}
}

func TestNewPayloadEventTruncates(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, MaxPayloadData+10)
	ev := NewPayloadEvent("secure", DirectionIn, data)

	if ev.Size != MaxPayloadData+10 {
		t.Errorf("Size: got %d, want %d", ev.Size, MaxPayloadData+10)
	}
	if len(ev.Data) != MaxPayloadData {
		t.Errorf("len(Data): got %d, want %d", len(ev.Data), MaxPayloadData)
	}
	if !ev.Truncated {
		t.Error("Truncated: got false, want true")
	}
}

func TestEventCBORKeepsTimestampPrecision(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	data, err := EncodeEvent(Event{
		Timestamp: ts,
		RunID:     "run-1",
		Role:      RoleClient,
		Layer:     LayerTLS,
		Category:  CategoryMilestone,
		Milestone: &MilestoneEvent{
			Name:     "PeerFinishedReceived",
			Seq:      3,
			Elapsed:  1500 * time.Microsecond,
			Attempts: 4,
			Detail:   "0a0b",
		},
	})
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}

	decoded, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if !decoded.Timestamp.Equal(ts) {
		t.Errorf("Timestamp: got %v, want %v", decoded.Timestamp, ts)
	}
	if decoded.Milestone == nil {
		t.Fatal("Milestone is nil")
	}
	if decoded.Milestone.Elapsed != 1500*time.Microsecond {
		t.Errorf("Elapsed: got %v", decoded.Milestone.Elapsed)
	}
	if decoded.Payload != nil || decoded.StateChange != nil || decoded.Error != nil {
		t.Error("unexpected payload set after decode")
	}
}

func TestEncodeEventDeterministic(t *testing.T) {
	ev := Event{
		Timestamp: time.Unix(0, 42).UTC(),
		RunID:     "run-1",
		Role:      RoleServer,
		Layer:     LayerTransport,
		Category:  CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   StateEntityEndpoint,
			OldState: "CONNECTED",
			NewState: "CLOSED",
		},
	}
	a, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	b, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error for invalid CBOR")
	}
}
