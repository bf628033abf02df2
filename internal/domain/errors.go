package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries.  Callers should use [errors.Is] to match these.
var (
	// ErrNoActiveSession means no identified session matched the call target,
	// either because none is connected or the named file key is unknown.
	ErrNoActiveSession = errors.New("no active session")

	// ErrTimeout is returned when a call was sent but no matching response
	// arrived within the allotted window.
	ErrTimeout = errors.New("request timed out")

	// ErrShuttingDown rejects calls that were still in flight when the bridge
	// was stopped.
	ErrShuttingDown = errors.New("bridge shutting down")

	// ErrTransportUnavailable means the bridge is not listening at all. It is
	// distinct from ErrNoActiveSession: a listening bridge may have zero
	// identified sessions.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrConnectionLost rejects calls whose socket closed, or whose request
	// could not be written, before a reply arrived.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoPortAvailable is returned when every candidate port is in use.
	ErrNoPortAvailable = errors.New("no port available")
)

// RemoteError carries an error reported by the plugin runtime in a
// {id, error} reply. The message is surfaced verbatim.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// CallError wraps an underlying error with call context.
type CallError struct {
	FileKey string
	Method  string
	Err     error
}

func (e *CallError) Error() string {
	if e.FileKey != "" {
		return fmt.Sprintf("file %s: %s: %v", e.FileKey, e.Method, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
