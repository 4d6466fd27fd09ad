package transfer

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Start once the orchestrator has been closed.
var ErrClosed = errors.New("orchestrator is closed")

// SessionError represents a failure to obtain an engine session for a
// destination directory, for example because the directory cannot be created.
type SessionError struct {
	Destination string // Directory the session would have been rooted at
	Err         error  // Underlying error, if any
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session error for '%s': %v", e.Destination, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// EngineAddError represents the engine rejecting a transfer: a malformed
// identifier, an incompatible duplicate or an I/O error on the destination.
type EngineAddError struct {
	Identifier string // Transfer identifier handed to the engine
	Err        error  // Underlying error, if any
}

func (e *EngineAddError) Error() string {
	return fmt.Sprintf("engine rejected transfer: %v", e.Err)
}

func (e *EngineAddError) Unwrap() error {
	return e.Err
}
