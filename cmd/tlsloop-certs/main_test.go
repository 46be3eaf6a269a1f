package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tlsloop/tlsloop-go/pkg/cert"
)

func TestRunGeneratesLoadableMaterial(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-dir", dir, "-server-name", "loop.example"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	assert.Contains(t, stdout.String(), "Wrote certificates to "+dir)
	assert.Contains(t, stdout.String(), "dns=loop.example")

	m, err := cert.NewFileStore(dir).Load()
	require.NoError(t, err)
	assert.True(t, m.HasClientCert())
	assert.NoError(t, m.Validate("loop.example"))
}

func TestRunWithoutClient(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-dir", dir, "-without-client"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "client: absent")

	m, err := cert.NewFileStore(dir).Load()
	require.NoError(t, err)
	assert.False(t, m.HasClientCert())
}

func TestRunShow(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"-dir", dir}, &stdout, &stderr))

	stdout.Reset()
	require.Equal(t, 0, run([]string{"-dir", dir, "-show"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "server: ")
	assert.NotContains(t, stdout.String(), "Wrote")

	assert.Equal(t, 1, run([]string{"-dir", filepath.Join(dir, "missing"), "-show"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"-bogus"}, &stdout, &stderr))
}
