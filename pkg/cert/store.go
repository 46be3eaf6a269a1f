package cert

import "errors"

// Store errors.
var (
	ErrCertNotFound = errors.New("certificate material not found")
)

// Store provides the certificate material for a run.
// Implementations must be safe for concurrent access.
type Store interface {
	// Load returns the material. Returns ErrCertNotFound when the store
	// holds nothing.
	Load() (*Material, error)
}
