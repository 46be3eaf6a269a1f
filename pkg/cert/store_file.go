package cert

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Directory layout under the FileStore base directory.
const (
	caCertFile     = "ca/ca.crt"
	serverCertFile = "server/server.crt"
	serverKeyFile  = "server/server.key"
	clientCertFile = "client/client.crt"
	clientKeyFile  = "client/client.key"
)

// FileStore reads material from PEM files laid out as
//
//	<base>/ca/ca.crt
//	<base>/server/server.crt
//	<base>/server/server.key
//	<base>/client/client.crt   (optional)
//	<base>/client/client.key   (optional)
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStore creates a file-based store rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// Dir returns the base directory.
func (s *FileStore) Dir() string {
	return s.baseDir
}

// Load reads all material from disk. The CA and server files are required,
// the client files are optional but must be present together.
func (s *FileStore) Load() (*Material, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.baseDir); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCertNotFound, s.baseDir)
	}

	m := &Material{}
	files := []struct {
		name     string
		dst      *[]byte
		optional bool
	}{
		{caCertFile, &m.CA, false},
		{serverCertFile, &m.ServerCert, false},
		{serverKeyFile, &m.ServerKey, false},
		{clientCertFile, &m.ClientCert, true},
		{clientKeyFile, &m.ClientKey, true},
	}
	for _, f := range files {
		data, err := readFile(s.path(f.name), f.optional)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrCertNotFound, s.path(f.name))
			}
			return nil, fmt.Errorf("read %s: %w", f.name, err)
		}
		*f.dst = data
	}

	if (len(m.ClientCert) == 0) != (len(m.ClientKey) == 0) {
		return nil, fmt.Errorf("%w: client certificate and key must be present together", ErrInvalidCert)
	}
	return m, nil
}

// Save writes the material to disk. Keys are written with 0600.
func (s *FileStore) Save(m *Material) error {
	if m == nil || len(m.CA) == 0 {
		return ErrMissingCA
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, dir := range []string{"ca", "server", "client"} {
		if err := os.MkdirAll(filepath.Join(s.baseDir, dir), 0755); err != nil {
			return err
		}
	}

	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{caCertFile, m.CA, 0644},
		{serverCertFile, m.ServerCert, 0644},
		{serverKeyFile, m.ServerKey, 0600},
		{clientCertFile, m.ClientCert, 0644},
		{clientKeyFile, m.ClientKey, 0600},
	}
	for _, f := range files {
		if err := writeFile(s.path(f.name), f.data, f.perm); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(name))
}
