package handshake

import (
	"bytes"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
)

// TLS record content types.
const (
	recordTypeChangeCipherSpec = 20
	recordTypeAlert            = 21
	recordTypeHandshake        = 22
	recordTypeApplicationData  = 23
)

// TLS handshake message types.
const (
	typeClientHello = 1
	typeServerHello = 2
	typeCertificate = 11
	typeFinished    = 20
)

const (
	recordHeaderLen    = 5
	maxCiphertextLen   = 1<<14 + 256
	handshakeHeaderLen = 4

	extensionSupportedVersions = 43

	keyLogClientHandshake = "CLIENT_HANDSHAKE_TRAFFIC_SECRET"
	keyLogServerHandshake = "SERVER_HANDSHAKE_TRAFFIC_SECRET"
)

// helloRetryRequestRandom is the ServerHello random that marks a
// HelloRetryRequest (RFC 8446, Section 4.1.3).
var helloRetryRequestRandom = []byte{
	0xCF, 0x21, 0xAD, 0x74, 0xE5, 0x9A, 0x61, 0x11,
	0xBE, 0x1D, 0x8C, 0x02, 0x1E, 0x65, 0xB8, 0x91,
	0xC2, 0xA2, 0x11, 0x16, 0x7A, 0xBB, 0x8C, 0x5E,
	0x07, 0x9E, 0x09, 0xE2, 0xC8, 0xA8, 0x33, 0x9C,
}

// direction of a byte stream relative to the TLS roles.
type direction int

const (
	clientToServer direction = iota
	serverToClient
)

func (d direction) String() string {
	if d == clientToServer {
		return "client->server"
	}
	return "server->client"
}

// secretLabel is the key log label protecting handshake records in d.
func (d direction) secretLabel() string {
	if d == clientToServer {
		return keyLogClientHandshake
	}
	return keyLogServerHandshake
}

// stream is the decoding state of one direction.
type stream struct {
	pending    []byte // unparsed record bytes
	handshake  []byte // handshake message reassembly
	protection *recordProtection
	finished   []byte
	done       bool
}

// observer reconstructs handshake progress from the raw records of one
// connection and the key log lines of its engine. It is safe for
// concurrent use; notify is called after every observable change.
type observer struct {
	role   Role
	notify func()

	mu      sync.Mutex
	streams [2]stream
	secrets map[string][]byte

	clientRandom    []byte
	serverHelloSeen bool
	version         uint16
	suite           uint16
	helloRetry      bool

	peerCert     *x509.Certificate
	peerCertSeen bool

	err error
}

func newObserver(role Role, notify func()) *observer {
	if notify == nil {
		notify = func() {}
	}
	return &observer{
		role:    role,
		notify:  notify,
		secrets: make(map[string][]byte),
	}
}

// outbound is the direction this role writes.
func (o *observer) outbound() direction {
	if o.role == RoleServer {
		return serverToClient
	}
	return clientToServer
}

// inbound is the direction this role reads.
func (o *observer) inbound() direction {
	if o.role == RoleServer {
		return clientToServer
	}
	return serverToClient
}

// written ingests bytes the engine successfully wrote.
func (o *observer) written(p []byte) {
	o.ingest(o.outbound(), p)
}

// read ingests bytes the engine read.
func (o *observer) read(p []byte) {
	o.ingest(o.inbound(), p)
}

func (o *observer) ingest(d direction, p []byte) {
	if len(p) == 0 {
		return
	}
	o.mu.Lock()
	s := &o.streams[d]
	if s.done || o.err != nil {
		o.mu.Unlock()
		return
	}
	s.pending = append(s.pending, p...)
	changed := o.process(d)
	o.mu.Unlock()

	if changed {
		o.notify()
	}
}

// keyLog parses one NSS key log line: "<label> <client random> <secret>".
func (o *observer) keyLog(line []byte) {
	fields := bytes.Fields(line)
	if len(fields) != 3 {
		return
	}
	label := string(fields[0])
	if label != keyLogClientHandshake && label != keyLogServerHandshake {
		return
	}
	random, err1 := hex.DecodeString(string(fields[1]))
	secret, err2 := hex.DecodeString(string(fields[2]))
	if err1 != nil || err2 != nil {
		return
	}

	o.mu.Lock()
	if o.clientRandom != nil && !bytes.Equal(random, o.clientRandom) {
		o.mu.Unlock()
		return
	}
	o.secrets[label] = secret
	for _, d := range []direction{clientToServer, serverToClient} {
		o.process(d)
	}
	o.mu.Unlock()

	o.notify()
}

// process decodes as many complete records of d as possible. Encrypted
// records stay pending until their key is available. Returns whether any
// observable state changed. Callers hold o.mu.
func (o *observer) process(d direction) bool {
	s := &o.streams[d]
	changed := false

	for !s.done && o.err == nil && len(s.pending) >= recordHeaderLen {
		length := int(binary.BigEndian.Uint16(s.pending[3:5]))
		if length > maxCiphertextLen {
			o.fail(fmt.Errorf("%w: %s record length %d", ErrDecode, d, length))
			return true
		}
		if len(s.pending) < recordHeaderLen+length {
			break
		}
		record := s.pending[:recordHeaderLen+length]

		switch record[0] {
		case recordTypeChangeCipherSpec:
			// compatibility record, carries no handshake data
		case recordTypeAlert:
			s.done = true
			changed = true
		case recordTypeHandshake:
			if o.handshakeData(d, record[recordHeaderLen:]) {
				changed = true
			}
		case recordTypeApplicationData:
			if s.protection == nil && !o.installKeys(d) {
				return changed || o.err != nil
			}
			contentType, content, err := s.protection.open(record)
			if err != nil {
				o.fail(err)
				return true
			}
			switch contentType {
			case recordTypeHandshake:
				if o.handshakeData(d, content) {
					changed = true
				}
			case recordTypeAlert:
				s.done = true
				changed = true
			}
		default:
			o.fail(fmt.Errorf("%w: %s record type %d", ErrDecode, d, record[0]))
			return true
		}

		s.pending = s.pending[len(record):]
	}

	if s.done {
		s.pending = nil
		s.handshake = nil
	}
	return changed
}

// installKeys sets up record protection for d once the cipher suite and
// the handshake traffic secret are known.
func (o *observer) installKeys(d direction) bool {
	if !o.serverHelloSeen {
		return false
	}
	secret, ok := o.secrets[d.secretLabel()]
	if !ok {
		return false
	}
	p, err := newRecordProtection(o.suite, secret)
	if err != nil {
		o.fail(err)
		return false
	}
	o.streams[d].protection = p
	return true
}

// handshakeData reassembles handshake messages of d and handles each
// complete one.
func (o *observer) handshakeData(d direction, data []byte) bool {
	s := &o.streams[d]
	s.handshake = append(s.handshake, data...)
	changed := false

	for len(s.handshake) >= handshakeHeaderLen && !s.done && o.err == nil {
		n := int(s.handshake[1])<<16 | int(s.handshake[2])<<8 | int(s.handshake[3])
		if len(s.handshake) < handshakeHeaderLen+n {
			break
		}
		typ := s.handshake[0]
		body := s.handshake[handshakeHeaderLen : handshakeHeaderLen+n]
		s.handshake = s.handshake[handshakeHeaderLen+n:]

		if o.handshakeMessage(d, typ, body) {
			changed = true
		}
	}
	return changed
}

func (o *observer) handshakeMessage(d direction, typ byte, body []byte) bool {
	switch typ {
	case typeClientHello:
		if d != clientToServer || len(body) < 34 {
			return false
		}
		o.clientRandom = bytes.Clone(body[2:34])
		return false

	case typeServerHello:
		if d != serverToClient {
			return false
		}
		if err := o.serverHello(body); err != nil {
			o.fail(err)
		}
		return true

	case typeCertificate:
		if d != o.inbound() {
			return false
		}
		cert, err := parseCertificateMessage(body)
		if err != nil {
			o.fail(err)
			return true
		}
		o.peerCert = cert
		o.peerCertSeen = true
		return true

	case typeFinished:
		s := &o.streams[d]
		s.finished = bytes.Clone(body)
		s.done = true
		return true
	}
	return false
}

// serverHello records the negotiated parameters, or the retry flag for a
// HelloRetryRequest.
func (o *observer) serverHello(body []byte) error {
	// legacy_version(2) random(32) session_id<1> cipher_suite(2) compression(1)
	if len(body) < 35 {
		return fmt.Errorf("%w: short ServerHello", ErrDecode)
	}
	version := binary.BigEndian.Uint16(body[0:2])
	random := body[2:34]
	rest := body[34:]

	sidLen := int(rest[0])
	if len(rest) < 1+sidLen+3 {
		return fmt.Errorf("%w: short ServerHello", ErrDecode)
	}
	rest = rest[1+sidLen:]
	suite := binary.BigEndian.Uint16(rest[0:2])
	rest = rest[3:]

	if bytes.Equal(random, helloRetryRequestRandom) {
		o.helloRetry = true
		return nil
	}

	if len(rest) >= 2 {
		extLen := int(binary.BigEndian.Uint16(rest[0:2]))
		exts := rest[2:]
		if extLen < len(exts) {
			exts = exts[:extLen]
		}
		for len(exts) >= 4 {
			typ := binary.BigEndian.Uint16(exts[0:2])
			n := int(binary.BigEndian.Uint16(exts[2:4]))
			if len(exts) < 4+n {
				return fmt.Errorf("%w: truncated ServerHello extension", ErrDecode)
			}
			if typ == extensionSupportedVersions && n == 2 {
				version = binary.BigEndian.Uint16(exts[4:6])
			}
			exts = exts[4+n:]
		}
	}

	o.version = version
	o.suite = suite
	o.serverHelloSeen = true
	return nil
}

// parseCertificateMessage returns the leaf of a TLS 1.3 Certificate
// message, or nil for an empty certificate list.
func parseCertificateMessage(body []byte) (*x509.Certificate, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty Certificate message", ErrDecode)
	}
	ctxLen := int(body[0])
	if len(body) < 1+ctxLen+3 {
		return nil, fmt.Errorf("%w: short Certificate message", ErrDecode)
	}
	rest := body[1+ctxLen:]
	listLen := int(rest[0])<<16 | int(rest[1])<<8 | int(rest[2])
	list := rest[3:]
	if len(list) < listLen {
		return nil, fmt.Errorf("%w: truncated certificate list", ErrDecode)
	}
	list = list[:listLen]
	if len(list) == 0 {
		return nil, nil
	}

	if len(list) < 3 {
		return nil, fmt.Errorf("%w: truncated certificate entry", ErrDecode)
	}
	certLen := int(list[0])<<16 | int(list[1])<<8 | int(list[2])
	if len(list) < 3+certLen {
		return nil, fmt.Errorf("%w: truncated certificate entry", ErrDecode)
	}
	cert, err := x509.ParseCertificate(list[3 : 3+certLen])
	if err != nil {
		return nil, fmt.Errorf("%w: peer certificate: %v", ErrDecode, err)
	}
	return cert, nil
}

func (o *observer) fail(err error) {
	if o.err == nil {
		o.err = err
	}
}

// Point-in-time queries.

func (o *observer) info() (SessionInfo, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	_, c := o.secrets[keyLogClientHandshake]
	_, s := o.secrets[keyLogServerHandshake]
	if !o.serverHelloSeen || !c || !s {
		return SessionInfo{}, false
	}
	return SessionInfo{
		Version:      o.version,
		CipherSuite:  o.suite,
		ClientRandom: bytes.Clone(o.clientRandom),
		HelloRetry:   o.helloRetry,
	}, true
}

func (o *observer) localFinished() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return bytes.Clone(o.streams[o.outbound()].finished)
}

func (o *observer) peerFinished() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return bytes.Clone(o.streams[o.inbound()].finished)
}

// peerCertificate reports the peer leaf. The absence of a certificate is
// known once the peer's Finished arrived without a non-empty Certificate.
func (o *observer) peerCertificate() (*x509.Certificate, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.peerCertSeen {
		return o.peerCert, true
	}
	if o.streams[o.inbound()].finished != nil {
		return nil, true
	}
	return nil, false
}

func (o *observer) failure() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}
