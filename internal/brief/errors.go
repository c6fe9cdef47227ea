package brief

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline and the HTTP layer.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrAlreadyTerminal   = errors.New("job already finished")
	ErrMissingCredential = errors.New("missing credential")
	ErrNoSearchResults   = errors.New("no organic search results returned")
	ErrEmptyAnalysis     = errors.New("analysis returned no text")
	ErrQueueClosed       = errors.New("queue closed")
)

// CredentialError reports a required API key that is absent from the environment.
type CredentialError struct {
	Name string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s is not set in environment", e.Name)
}

// Is lets callers match with errors.Is(err, ErrMissingCredential).
func (e *CredentialError) Is(target error) bool {
	return target == ErrMissingCredential
}

// UpstreamStatusError is returned when an upstream HTTP call answers with a non-2xx code.
type UpstreamStatusError struct {
	Code int
	URL  string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}
