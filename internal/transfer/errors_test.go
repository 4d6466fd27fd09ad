package transfer

import (
	"errors"
	"fmt"
	"testing"
)

// TestSessionError_Error verifies error message formatting
func TestSessionError_Error(t *testing.T) {
	err := &SessionError{
		Destination: "/downloads/games",
		Err:         errors.New("permission denied"),
	}

	expected := "session error for '/downloads/games': permission denied"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestEngineAddError_Error verifies error message formatting
func TestEngineAddError_Error(t *testing.T) {
	err := &EngineAddError{
		Identifier: "magnet:?xt=urn:btih:abc",
		Err:        errors.New("invalid magnet"),
	}

	expected := "engine rejected transfer: invalid magnet"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

// TestErrorUnwrapping verifies errors.Is and errors.As work through wrapping
func TestErrorUnwrapping(t *testing.T) {
	base := errors.New("underlying")

	tests := []struct {
		name   string
		err    error
		target any
	}{
		{
			name:   "SessionError",
			err:    fmt.Errorf("start: %w", &SessionError{Destination: "/d", Err: base}),
			target: new(*SessionError),
		},
		{
			name:   "EngineAddError",
			err:    fmt.Errorf("start: %w", &EngineAddError{Identifier: "x", Err: base}),
			target: new(*EngineAddError),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, base) {
				t.Errorf("errors.Is(%v, base) = false, want true", tt.err)
			}

			if !errors.As(tt.err, tt.target) {
				t.Errorf("errors.As(%v, %T) = false, want true", tt.err, tt.target)
			}
		})
	}
}
