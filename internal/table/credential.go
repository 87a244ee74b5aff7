package table

import "errors"

// ErrNoCredential is returned when no API key is stored
var ErrNoCredential = errors.New("no credential stored")

// CredentialStore persists the user-supplied API key across sessions.
// Exactly one key is active at a time; validity is discovered lazily through
// extraction-call failures, never validated here.
type CredentialStore interface {
	// Load retrieves the stored API key.
	// Returns ErrNoCredential if none is stored.
	Load() (string, error)

	// Save persists the API key, replacing any previous value
	Save(key string) error

	// Clear removes the stored API key.
	// Returns nil if no key exists.
	Clear() error
}
