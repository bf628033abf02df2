package portdisco

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/koltyakov/plugbridge/internal/domain"
)

func TestCandidatePorts(t *testing.T) {
	t.Parallel()

	got := CandidatePorts(9223, 10)
	if len(got) != 10 || got[0] != 9223 || got[9] != 9232 {
		t.Fatalf("unexpected candidates: %v", got)
	}
	if got := CandidatePorts(65534, 10); len(got) != 2 {
		t.Fatalf("expected range clipped at 65535, got %v", got)
	}
	if got := CandidatePorts(0, 10); len(got) != 1 || got[0] != 0 {
		t.Fatalf("expected single ephemeral candidate, got %v", got)
	}
	if got := CandidatePorts(9000, 0); len(got) != DefaultRangeSize {
		t.Fatalf("expected default range size, got %d", len(got))
	}
}

func TestListenSkipsBusyPort(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = busy.Close() }()
	busyPort := busy.Addr().(*net.TCPAddr).Port
	if busyPort >= 65535 {
		t.Skip("ephemeral port at top of range")
	}

	ln, port, err := Listen(context.Background(), "127.0.0.1", busyPort, 2)
	if err != nil {
		// The neighbour port may be taken on a busy host.
		if errors.Is(err, domain.ErrNoPortAvailable) {
			t.Skipf("no free neighbour port: %v", err)
		}
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()
	if port != busyPort+1 {
		t.Fatalf("expected fallback to %d, got %d", busyPort+1, port)
	}
	if ln.Addr().String() != net.JoinHostPort("127.0.0.1", strconv.Itoa(port)) {
		t.Fatalf("unexpected listener addr %s", ln.Addr())
	}
}

func TestListenExhaustedRange(t *testing.T) {
	t.Parallel()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = busy.Close() }()
	busyPort := busy.Addr().(*net.TCPAddr).Port

	_, _, err = Listen(context.Background(), "127.0.0.1", busyPort, 1)
	if !errors.Is(err, domain.ErrNoPortAvailable) {
		t.Fatalf("expected ErrNoPortAvailable, got %v", err)
	}
}

func TestListenEphemeral(t *testing.T) {
	t.Parallel()

	ln, port, err := Listen(context.Background(), "127.0.0.1", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = ln.Close() }()
	if port == 0 {
		t.Fatal("expected bound port to be reported")
	}
}
