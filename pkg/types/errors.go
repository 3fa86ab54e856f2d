package types

import "errors"

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("...: %w") and test with errors.Is.
var (
	// ErrConfiguration covers unknown provider keys and missing credentials. Never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrNotFound is returned when a repository or namespace does not exist
	ErrNotFound = errors.New("not found")

	// ErrIndexWrite covers embedding and storage failures while writing a namespace
	ErrIndexWrite = errors.New("index write failed")

	// ErrTransientOracle is returned when a grading or rewrite call fails during retrieval
	ErrTransientOracle = errors.New("oracle call failed")

	// ErrInvalidTransition is returned for a namespace status change the lifecycle forbids
	ErrInvalidTransition = errors.New("invalid namespace status transition")
)
