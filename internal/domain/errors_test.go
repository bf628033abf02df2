package domain

import (
	"errors"
	"testing"
)

func TestCallErrorMessage(t *testing.T) {
	t.Parallel()

	err := &CallError{FileKey: "abc", Method: "EXECUTE_CODE", Err: ErrTimeout}
	want := "file abc: EXECUTE_CODE: request timed out"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCallErrorUnwrap(t *testing.T) {
	t.Parallel()

	err := &CallError{FileKey: "abc", Method: "UPDATE_VARIABLE", Err: ErrShuttingDown}
	if !errors.Is(err, ErrShuttingDown) {
		t.Fatal("expected errors.Is to match ErrShuttingDown")
	}
}

func TestCallErrorWithoutFileKey(t *testing.T) {
	t.Parallel()

	err := &CallError{Method: "EXECUTE_CODE", Err: ErrNoActiveSession}
	want := "EXECUTE_CODE: no active session"
	if got := err.Error(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRemoteErrorAs(t *testing.T) {
	t.Parallel()

	err := &CallError{FileKey: "abc", Method: "DELETE_NODE", Err: &RemoteError{Message: "Node not found: 1:2"}}
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatal("expected errors.As to find RemoteError")
	}
	if remote.Message != "Node not found: 1:2" {
		t.Fatalf("unexpected remote message %q", remote.Message)
	}
}

func TestSentinelErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"no_active_session", ErrNoActiveSession, "no active session"},
		{"timeout", ErrTimeout, "request timed out"},
		{"shutting_down", ErrShuttingDown, "bridge shutting down"},
		{"transport_unavailable", ErrTransportUnavailable, "transport unavailable"},
		{"connection_lost", ErrConnectionLost, "connection lost"},
		{"no_port", ErrNoPortAvailable, "no port available"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
