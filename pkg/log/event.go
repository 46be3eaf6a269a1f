package log

import (
	"time"
)

// Event represents a harness event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// RunID uniquely identifies the harness run (UUID).
	RunID string `cbor:"2,keyasint"`

	// Role is the side the event belongs to.
	Role Role `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// EndpointID identifies the transport endpoint (UUID), if any.
	EndpointID string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"` // Endpoint/session/listener state
	Milestone   *MilestoneEvent   `cbor:"11,keyasint,omitempty"` // Handshake progress
	Payload     *PayloadEvent     `cbor:"12,keyasint,omitempty"` // Probe data
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"` // Errors at any layer
}

// Role indicates which side of the pair the event belongs to.
type Role uint8

const (
	// RoleServer is the passive endpoint and the TLS server.
	RoleServer Role = 0
	// RoleClient is the active endpoint and the TLS client.
	RoleClient Role = 1
	// RoleHarness marks events not tied to one side.
	RoleHarness Role = 2
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	case RoleHarness:
		return "HARNESS"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the raw byte stream.
	LayerTransport Layer = 0
	// LayerTLS is the TLS session.
	LayerTLS Layer = 1
	// LayerHarness is run orchestration.
	LayerHarness Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerTLS:
		return "TLS"
	case LayerHarness:
		return "HARNESS"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryState indicates a state change.
	CategoryState Category = 0
	// CategoryMilestone indicates a resolved handshake milestone.
	CategoryMilestone Category = 1
	// CategoryPayload indicates probe data sent or received.
	CategoryPayload Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryState:
		return "STATE"
	case CategoryMilestone:
		return "MILESTONE"
	case CategoryPayload:
		return "PAYLOAD"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Direction indicates the direction of probe data.
type Direction uint8

const (
	// DirectionIn indicates data read by the role.
	DirectionIn Direction = 0
	// DirectionOut indicates data written by the role.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures endpoint, session and listener lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityEndpoint indicates a transport endpoint state change.
	StateEntityEndpoint StateEntity = 0
	// StateEntitySession indicates a TLS session state change.
	StateEntitySession StateEntity = 1
	// StateEntityListener indicates a listener state change.
	StateEntityListener StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityEndpoint:
		return "ENDPOINT"
	case StateEntitySession:
		return "SESSION"
	case StateEntityListener:
		return "LISTENER"
	default:
		return "UNKNOWN"
	}
}

// MilestoneEvent captures a resolved handshake milestone.
type MilestoneEvent struct {
	// Name is the milestone name (e.g. "PeerFinishedReceived").
	Name string `cbor:"1,keyasint"`

	// Seq is the resolution order within the session.
	Seq int `cbor:"2,keyasint"`

	// Elapsed is the time from the start of the wait. Stored as nanoseconds.
	Elapsed time.Duration `cbor:"3,keyasint"`

	// Attempts is the number of poll attempts.
	Attempts int `cbor:"4,keyasint,omitempty"`

	// Detail summarises the resolved value.
	Detail string `cbor:"5,keyasint,omitempty"`
}

// PayloadEvent captures probe data.
type PayloadEvent struct {
	// Probe names the exchange ("plaintext" or "secure").
	Probe string `cbor:"1,keyasint"`

	// Direction relative to the event's role.
	Direction Direction `cbor:"2,keyasint"`

	// Size is the payload size in bytes.
	Size int `cbor:"3,keyasint"`

	// Data is the payload (may be truncated).
	Data []byte `cbor:"4,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"5,keyasint,omitempty"`
}

// MaxPayloadData bounds PayloadEvent.Data.
const MaxPayloadData = 1024

// NewPayloadEvent builds a PayloadEvent, truncating data to MaxPayloadData.
func NewPayloadEvent(probe string, dir Direction, data []byte) *PayloadEvent {
	ev := &PayloadEvent{Probe: probe, Direction: dir, Size: len(data)}
	if len(data) > MaxPayloadData {
		data = data[:MaxPayloadData]
		ev.Truncated = true
	}
	ev.Data = append([]byte(nil), data...)
	return ev
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Kind is the harness error classification (e.g. "handshake").
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
