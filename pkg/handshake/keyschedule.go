package handshake

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"hash"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// suiteParams describes the record protection of a TLS 1.3 cipher suite.
type suiteParams struct {
	keyLen int
	hash   func() hash.Hash
	aead   func(key []byte) (cipher.AEAD, error)
}

var tls13Suites = map[uint16]suiteParams{
	tls.TLS_AES_128_GCM_SHA256:       {keyLen: 16, hash: sha256.New, aead: aesGCM},
	tls.TLS_AES_256_GCM_SHA384:       {keyLen: 32, hash: sha512.New384, aead: aesGCM},
	tls.TLS_CHACHA20_POLY1305_SHA256: {keyLen: chacha20poly1305.KeySize, hash: sha256.New, aead: chacha20poly1305.New},
}

func aesGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// ivLen is the per-record nonce length of every TLS 1.3 AEAD.
const ivLen = 12

// expandLabel implements HKDF-Expand-Label from RFC 8446, Section 7.1.
func expandLabel(h func() hash.Hash, secret []byte, label string, context []byte, length int) ([]byte, error) {
	full := "tls13 " + label
	info := make([]byte, 0, 2+1+len(full)+1+len(context))
	info = binary.BigEndian.AppendUint16(info, uint16(length))
	info = append(info, byte(len(full)))
	info = append(info, full...)
	info = append(info, byte(len(context)))
	info = append(info, context...)

	out := make([]byte, length)
	if _, err := hkdf.Expand(h, secret, info).Read(out); err != nil {
		return nil, err
	}
	return out, nil
}

// trafficKeys derives the record key and IV for a traffic secret.
func trafficKeys(suite uint16, secret []byte) (key, iv []byte, err error) {
	p, ok := tls13Suites[suite]
	if !ok {
		return nil, nil, fmt.Errorf("%w: cipher suite %#04x", ErrUnsupportedSuite, suite)
	}
	if key, err = expandLabel(p.hash, secret, "key", nil, p.keyLen); err != nil {
		return nil, nil, err
	}
	if iv, err = expandLabel(p.hash, secret, "iv", nil, ivLen); err != nil {
		return nil, nil, err
	}
	return key, iv, nil
}

// recordProtection decrypts the records of one direction.
type recordProtection struct {
	aead cipher.AEAD
	iv   []byte
	seq  uint64
}

func newRecordProtection(suite uint16, secret []byte) (*recordProtection, error) {
	key, iv, err := trafficKeys(suite, secret)
	if err != nil {
		return nil, err
	}
	aead, err := tls13Suites[suite].aead(key)
	if err != nil {
		return nil, err
	}
	return &recordProtection{aead: aead, iv: iv}, nil
}

// nonce XORs the sequence number into the last eight bytes of the IV.
func (p *recordProtection) nonce() []byte {
	n := make([]byte, ivLen)
	copy(n, p.iv)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], p.seq)
	for i := range seq {
		n[ivLen-8+i] ^= seq[i]
	}
	return n
}

// open decrypts one record (header included) and returns the inner content
// type and content.
func (p *recordProtection) open(record []byte) (byte, []byte, error) {
	header, payload := record[:recordHeaderLen], record[recordHeaderLen:]
	plain, err := p.aead.Open(nil, p.nonce(), payload, header)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: record %d: %v", ErrDecode, p.seq, err)
	}
	p.seq++

	// TLSInnerPlaintext: content || type || zeros
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 {
		return 0, nil, fmt.Errorf("%w: record %d has no content type", ErrDecode, p.seq-1)
	}
	return plain[i], plain[:i], nil
}
