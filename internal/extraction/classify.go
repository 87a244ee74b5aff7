package extraction

import (
	"errors"
	"fmt"
	"strings"
)

// invalidKeySignal is the substring the remote service includes in its error
// text when the API key is rejected. The match is case-insensitive and must
// stay exactly this string for auth-failure detection to keep working.
const invalidKeySignal = "api key not valid"

var (
	// ErrInvalidAPIKey indicates the remote service rejected the credential.
	// Callers must discard the stored credential and force re-entry.
	ErrInvalidAPIKey = errors.New("api key was rejected by the extraction service")

	// ErrEmptyResult indicates the call succeeded but yielded zero rows
	ErrEmptyResult = errors.New("no table could be found in the image")

	// ErrNoResponse indicates the remote call completed without producing
	// any usable content or error message
	ErrNoResponse = errors.New("no response from the extraction service")
)

// TransportError wraps a message-bearing network or remote fault
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("calling extraction service: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyRemoteError sorts a remote failure into the error taxonomy. Auth
// rejection is detected by pattern-matching the remote error text, which is
// how the provider actually signals an invalid key.
func classifyRemoteError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), invalidKeySignal) {
		return fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
	}
	return &TransportError{Err: err}
}
