// Package reporter formats harness progress for the console.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/tlsloop/tlsloop-go/pkg/handshake"
)

// Probe names passed to Payloads.
const (
	ProbePlaintext = "plaintext"
	ProbeSecure    = "secure"
)

// Reporter receives progress as a run advances. Implementations must be
// safe for concurrent use; milestones arrive from both sides at once.
type Reporter interface {
	// Progress reports a one-line status message.
	Progress(line string)

	// Milestone reports a resolved handshake milestone.
	Milestone(ev handshake.MilestoneEvent)

	// Payloads reports what each side received during a probe.
	Payloads(probe string, fromServer, fromClient []byte)

	// Summary reports the end of the run.
	Summary(s *Summary)
}

// Summary describes a finished run.
type Summary struct {
	RunID       string
	Port        int
	Passed      bool
	Kind        string
	Error       error
	Duration    time.Duration
	Version     string
	CipherSuite string

	// ClientCertificate is the certificate the server observed, or "absent".
	ClientCertificate string

	// Milestones per role in resolution order.
	Server []handshake.MilestoneEvent
	Client []handshake.MilestoneEvent

	// Cascade reports which teardown steps were observed.
	PassiveClosed  bool
	ActiveClosed   bool
	ListenerClosed bool
}

// TextReporter prints human-readable lines.
type TextReporter struct {
	mu      sync.Mutex
	writer  io.Writer
	verbose bool
}

// NewTextReporter creates a text reporter. Verbose adds a line for every
// milestone on both sides.
func NewTextReporter(w io.Writer, verbose bool) *TextReporter {
	return &TextReporter{writer: w, verbose: verbose}
}

// Progress prints the line as is.
func (r *TextReporter) Progress(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.writer, line)
}

// Milestone narrates server-side progress. Other milestones are printed
// only in verbose mode.
func (r *TextReporter) Milestone(ev handshake.MilestoneEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if line := narrate(ev); line != "" {
		fmt.Fprintln(r.writer, line)
		return
	}
	if r.verbose {
		fmt.Fprintf(r.writer, "  [%s #%d] %s %s (%s, %d attempts)\n",
			ev.Role, ev.Seq, ev.Milestone, ev.Detail,
			ev.Elapsed.Round(time.Microsecond), ev.Attempts)
	}
}

// narrate returns the console line for the server milestones that have one.
func narrate(ev handshake.MilestoneEvent) string {
	if ev.Role != handshake.RoleServer {
		return ""
	}
	switch ev.Milestone {
	case handshake.LocalFinishedSent:
		return "server got 'Client Hello', sending 'Server Hello' and certificate request for mTLS"
	case handshake.PeerFinishedReceived:
		return "server-side TLS handshake finished"
	case handshake.PeerCertificateObserved:
		if ev.Detail == "" || ev.Detail == "absent" {
			return "client did not present certificate"
		}
		return "got client peer certificate (un-verified): " + ev.Detail
	}
	return ""
}

// Payloads prints the probe results as a single object literal.
func (r *TextReporter) Payloads(probe string, fromServer, fromClient []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch probe {
	case ProbeSecure:
		fmt.Fprintf(r.writer, "{\n  secureHelloFromServer: %s,\n  secureHelloFromClient: %s\n}\n",
			quote(fromServer), quote(fromClient))
	default:
		fmt.Fprintf(r.writer, "{ helloFromClient: %s, helloFromServer: %s }\n",
			quote(fromClient), quote(fromServer))
	}
}

func quote(b []byte) string {
	s := strconv.Quote(string(b))
	return "'" + s[1:len(s)-1] + "'"
}

// Summary prints the run summary.
func (r *TextReporter) Summary(s *Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := "PASS"
	if !s.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(r.writer, "\n--- Summary ---\n")
	fmt.Fprintf(r.writer, "Result:   %s (%s)\n", status, s.Duration.Round(time.Millisecond))
	if s.RunID != "" {
		fmt.Fprintf(r.writer, "Run:      %s\n", s.RunID)
	}
	if s.Version != "" {
		fmt.Fprintf(r.writer, "Session:  %s %s\n", s.Version, s.CipherSuite)
	}
	if s.Error != nil {
		fmt.Fprintf(r.writer, "Error:    [%s] %v\n", s.Kind, s.Error)
	}
	if r.verbose {
		fmt.Fprintf(r.writer, "Teardown: passive=%s active=%s listener=%s\n",
			closedWord(s.PassiveClosed), closedWord(s.ActiveClosed), closedWord(s.ListenerClosed))
	}
}

func closedWord(b bool) string {
	if b {
		return "closed"
	}
	return "open"
}

// JSONReporter writes one JSON object per line.
type JSONReporter struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewJSONReporter creates a JSON-lines reporter.
func NewJSONReporter(w io.Writer) *JSONReporter {
	return &JSONReporter{writer: w}
}

// JSONRecord is one line of JSON output.
type JSONRecord struct {
	Type string `json:"type"`

	Message string `json:"message,omitempty"`

	Role      string `json:"role,omitempty"`
	Milestone string `json:"milestone,omitempty"`
	Seq       int    `json:"seq,omitempty"`
	ElapsedUS int64  `json:"elapsed_us,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	Detail    string `json:"detail,omitempty"`

	Probe      string `json:"probe,omitempty"`
	FromServer string `json:"from_server,omitempty"`
	FromClient string `json:"from_client,omitempty"`

	Summary *JSONSummary `json:"summary,omitempty"`
}

// JSONSummary is the JSON representation of a Summary.
type JSONSummary struct {
	RunID             string `json:"run_id,omitempty"`
	Port              int    `json:"port,omitempty"`
	Status            string `json:"status"`
	Kind              string `json:"kind,omitempty"`
	Error             string `json:"error,omitempty"`
	Duration          string `json:"duration"`
	Version           string `json:"version,omitempty"`
	CipherSuite       string `json:"cipher_suite,omitempty"`
	ClientCertificate string `json:"client_certificate,omitempty"`
	ServerMilestones  int    `json:"server_milestones"`
	ClientMilestones  int    `json:"client_milestones"`
	PassiveClosed     bool   `json:"passive_closed"`
	ActiveClosed      bool   `json:"active_closed"`
	ListenerClosed    bool   `json:"listener_closed"`
}

// Progress writes a progress record.
func (r *JSONReporter) Progress(line string) {
	r.write(JSONRecord{Type: "progress", Message: line})
}

// Milestone writes a milestone record.
func (r *JSONReporter) Milestone(ev handshake.MilestoneEvent) {
	r.write(JSONRecord{
		Type:      "milestone",
		Message:   narrate(ev),
		Role:      ev.Role.String(),
		Milestone: ev.Milestone.String(),
		Seq:       ev.Seq,
		ElapsedUS: ev.Elapsed.Microseconds(),
		Attempts:  ev.Attempts,
		Detail:    ev.Detail,
	})
}

// Payloads writes a payload record.
func (r *JSONReporter) Payloads(probe string, fromServer, fromClient []byte) {
	r.write(JSONRecord{
		Type:       "payloads",
		Probe:      probe,
		FromServer: string(fromServer),
		FromClient: string(fromClient),
	})
}

// Summary writes the summary record.
func (r *JSONReporter) Summary(s *Summary) {
	js := &JSONSummary{
		RunID:             s.RunID,
		Port:              s.Port,
		Status:            "passed",
		Kind:              s.Kind,
		Duration:          s.Duration.Round(time.Millisecond).String(),
		Version:           s.Version,
		CipherSuite:       s.CipherSuite,
		ClientCertificate: s.ClientCertificate,
		ServerMilestones:  len(s.Server),
		ClientMilestones:  len(s.Client),
		PassiveClosed:     s.PassiveClosed,
		ActiveClosed:      s.ActiveClosed,
		ListenerClosed:    s.ListenerClosed,
	}
	if !s.Passed {
		js.Status = "failed"
	}
	if s.Error != nil {
		js.Error = s.Error.Error()
	}
	r.write(JSONRecord{Type: "summary", Summary: js})
}

func (r *JSONReporter) write(rec JSONRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writer.Write(append(data, '\n'))
}

// Compile-time interface satisfaction checks.
var (
	_ Reporter = (*TextReporter)(nil)
	_ Reporter = (*JSONReporter)(nil)
)
