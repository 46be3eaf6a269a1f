package reporter_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlsloop/tlsloop-go/internal/reporter"
	"github.com/tlsloop/tlsloop-go/pkg/handshake"
)

func serverEvent(m handshake.Milestone, detail string) handshake.MilestoneEvent {
	return handshake.MilestoneEvent{
		Role:      handshake.RoleServer,
		Milestone: m,
		Seq:       int(m) + 1,
		Elapsed:   1500 * time.Microsecond,
		Attempts:  2,
		Detail:    detail,
	}
}

// ============================================================================
// TextReporter
// ============================================================================

func TestTextReporterNarratesServerMilestones(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, false)

	r.Milestone(serverEvent(handshake.SessionEstablished, "TLS 1.3 TLS_AES_128_GCM_SHA256"))
	r.Milestone(serverEvent(handshake.LocalFinishedSent, "aabb"))
	r.Milestone(serverEvent(handshake.PeerFinishedReceived, "ccdd"))
	r.Milestone(serverEvent(handshake.PeerCertificateObserved, `subject="CN=client.local.example"`))

	want := "server got 'Client Hello', sending 'Server Hello' and certificate request for mTLS\n" +
		"server-side TLS handshake finished\n" +
		"got client peer certificate (un-verified): subject=\"CN=client.local.example\"\n"
	assert.Equal(t, want, buf.String())
}

func TestTextReporterAbsentCertificate(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, false)

	r.Milestone(serverEvent(handshake.PeerCertificateObserved, "absent"))

	assert.Equal(t, "client did not present certificate\n", buf.String())
}

func TestTextReporterVerboseClientMilestones(t *testing.T) {
	var buf bytes.Buffer
	quiet := reporter.NewTextReporter(&buf, false)

	ev := handshake.MilestoneEvent{Role: handshake.RoleClient, Milestone: handshake.PeerFinishedReceived, Seq: 3, Detail: "beef"}
	quiet.Milestone(ev)
	assert.Empty(t, buf.String())

	verbose := reporter.NewTextReporter(&buf, true)
	verbose.Milestone(ev)
	assert.Contains(t, buf.String(), "[client #3] PeerFinishedReceived beef")
}

func TestTextReporterPayloads(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, false)

	r.Payloads(reporter.ProbePlaintext, []byte("Hello from server"), []byte("Hello from client"))
	assert.Equal(t, "{ helloFromClient: 'Hello from client', helloFromServer: 'Hello from server' }\n", buf.String())

	buf.Reset()
	r.Payloads(reporter.ProbeSecure, []byte("Hello from server in TLS"), []byte("Hello from client in TLS"))
	assert.Equal(t, "{\n  secureHelloFromServer: 'Hello from server in TLS',\n  secureHelloFromClient: 'Hello from client in TLS'\n}\n", buf.String())
}

func TestTextReporterSummary(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, true)

	r.Summary(&reporter.Summary{
		RunID:          "run-1",
		Passed:         false,
		Kind:           "handshake",
		Error:          errors.New("bad certificate"),
		Duration:       1234 * time.Millisecond,
		PassiveClosed:  true,
		ListenerClosed: true,
	})

	out := buf.String()
	assert.Contains(t, out, "Result:   FAIL (1.234s)")
	assert.Contains(t, out, "Error:    [handshake] bad certificate")
	assert.Contains(t, out, "Teardown: passive=closed active=open listener=closed")
}

func TestTextReporterConcurrent(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewTextReporter(&buf, false)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Progress("client connected")
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, strings.Count(buf.String(), "client connected\n"))
}

// ============================================================================
// JSONReporter
// ============================================================================

func decodeLines(t *testing.T, buf *bytes.Buffer) []reporter.JSONRecord {
	t.Helper()
	var recs []reporter.JSONRecord
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec reporter.JSONRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec), "line %q", sc.Text())
		recs = append(recs, rec)
	}
	return recs
}

func TestJSONReporterRecords(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewJSONReporter(&buf)

	r.Progress("server listening at port: 4433")
	r.Milestone(serverEvent(handshake.PeerFinishedReceived, "ccdd"))
	r.Payloads(reporter.ProbePlaintext, []byte("Hello from server"), []byte("Hello from client"))
	r.Summary(&reporter.Summary{
		RunID:    "run-1",
		Port:     4433,
		Passed:   true,
		Duration: time.Second,
		Server:   make([]handshake.MilestoneEvent, 4),
		Client:   make([]handshake.MilestoneEvent, 4),
	})

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 4)

	assert.Equal(t, "progress", recs[0].Type)
	assert.Equal(t, "server listening at port: 4433", recs[0].Message)

	assert.Equal(t, "milestone", recs[1].Type)
	assert.Equal(t, "server", recs[1].Role)
	assert.Equal(t, "PeerFinishedReceived", recs[1].Milestone)
	assert.Equal(t, int64(1500), recs[1].ElapsedUS)
	assert.Equal(t, "server-side TLS handshake finished", recs[1].Message)

	assert.Equal(t, "payloads", recs[2].Type)
	assert.Equal(t, "Hello from client", recs[2].FromClient)

	require.NotNil(t, recs[3].Summary)
	assert.Equal(t, "passed", recs[3].Summary.Status)
	assert.Equal(t, 4, recs[3].Summary.ServerMilestones)
	assert.Equal(t, "1s", recs[3].Summary.Duration)
}

func TestJSONReporterFailedSummary(t *testing.T) {
	var buf bytes.Buffer
	r := reporter.NewJSONReporter(&buf)

	r.Summary(&reporter.Summary{Kind: "transport", Error: errors.New("refused")})

	recs := decodeLines(t, &buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "failed", recs[0].Summary.Status)
	assert.Equal(t, "refused", recs[0].Summary.Error)
	assert.Equal(t, "transport", recs[0].Summary.Kind)
}
