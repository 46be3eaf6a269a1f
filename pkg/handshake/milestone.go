package handshake

import (
	"crypto/x509"
	"sync"
	"time"
)

// Role is the TLS role of a session.
type Role int

const (
	// RoleServer wraps the passive endpoint.
	RoleServer Role = iota

	// RoleClient wraps the active endpoint.
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// Milestone is an observable handshake progress point.
type Milestone int

const (
	// SessionEstablished means negotiated session parameters are available.
	SessionEstablished Milestone = iota

	// LocalFinishedSent means this side's Finished message went out.
	LocalFinishedSent

	// PeerFinishedReceived means the peer's Finished message arrived and
	// the engine accepted the peer's flight.
	PeerFinishedReceived

	// PeerCertificateObserved means the peer certificate (or its absence)
	// is known.
	PeerCertificateObserved
)

// Milestones lists all milestones in dependency order.
var Milestones = []Milestone{
	SessionEstablished,
	LocalFinishedSent,
	PeerFinishedReceived,
	PeerCertificateObserved,
}

// String returns the milestone name.
func (m Milestone) String() string {
	switch m {
	case SessionEstablished:
		return "SessionEstablished"
	case LocalFinishedSent:
		return "LocalFinishedSent"
	case PeerFinishedReceived:
		return "PeerFinishedReceived"
	case PeerCertificateObserved:
		return "PeerCertificateObserved"
	default:
		return "Unknown"
	}
}

// TrackState is the state of one milestone track.
type TrackState int

const (
	TrackPending TrackState = iota
	TrackResolved
	TrackAborted
)

// String returns the track state name.
func (s TrackState) String() string {
	switch s {
	case TrackPending:
		return "pending"
	case TrackResolved:
		return "resolved"
	case TrackAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	StateIdle SessionState = iota
	StateNegotiating
	StateEstablished
	StateFailed
	StateClosed
)

// String returns the session state name.
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SessionInfo holds the negotiated session parameters.
type SessionInfo struct {
	Version      uint16
	CipherSuite  uint16
	ClientRandom []byte

	// HelloRetry is set when the server answered with a HelloRetryRequest.
	HelloRetry bool
}

// MilestoneEvent records the resolution of one milestone.
type MilestoneEvent struct {
	Role      Role
	Milestone Milestone

	// Seq is the resolution order within the session, starting at 1.
	Seq int

	// Elapsed is the time from the start of the wait to resolution.
	Elapsed time.Duration

	// Attempts is the number of poll attempts it took.
	Attempts int

	// Detail is a short human-readable summary of the resolved value.
	Detail string
}

// Outcome is the result of awaiting one session's handshake.
type Outcome struct {
	Role Role
	Info SessionInfo

	// LocalFinished and PeerFinished are the Finished verify_data bytes.
	LocalFinished []byte
	PeerFinished  []byte

	// PeerCertificate is the unverified peer leaf; nil means the peer
	// presented none.
	PeerCertificate *x509.Certificate

	// Events lists resolved milestones in resolution order.
	Events []MilestoneEvent

	mu     sync.Mutex
	tracks [4]TrackState
}

func newOutcome(role Role) *Outcome {
	return &Outcome{Role: role}
}

// Track returns the state of a milestone track.
func (o *Outcome) Track(m Milestone) TrackState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if int(m) < 0 || int(m) >= len(o.tracks) {
		return TrackPending
	}
	return o.tracks[m]
}

// Resolved reports whether all milestones resolved.
func (o *Outcome) Resolved() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range o.tracks {
		if s != TrackResolved {
			return false
		}
	}
	return true
}

// resolve marks m resolved and appends its event with the next sequence.
func (o *Outcome) resolve(ev MilestoneEvent, apply func(o *Outcome)) MilestoneEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	apply(o)
	o.tracks[ev.Milestone] = TrackResolved
	ev.Seq = len(o.Events) + 1
	o.Events = append(o.Events, ev)
	return ev
}

// abortPending marks every unresolved track aborted.
func (o *Outcome) abortPending() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, s := range o.tracks {
		if s == TrackPending {
			o.tracks[i] = TrackAborted
		}
	}
}
