package portdisco

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koltyakov/plugbridge/internal/domain"
)

func TestAdvertiseAndDiscover(t *testing.T) {
	dir := t.TempDir()

	path, err := Advertise(dir, domain.Advertisement{Port: 9224, Host: "localhost", StartedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if path != RecordPath(dir, 9224) {
		t.Fatalf("unexpected record path %s", path)
	}

	recs, err := Discover(dir, 9223, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Port != 9224 || recs[0].PID != os.Getpid() {
		t.Fatalf("unexpected records: %+v", recs)
	}

	if recs, _ := Discover(dir, 9300, 10); len(recs) != 0 {
		t.Fatalf("expected no records outside range, got %+v", recs)
	}

	if err := Withdraw(path); err != nil {
		t.Fatal(err)
	}
	if err := Withdraw(path); err != nil {
		t.Fatalf("second withdraw should be a no-op, got %v", err)
	}
}

func TestListPurgesStaleRecords(t *testing.T) {
	dir := t.TempDir()

	orig := PIDAlive
	PIDAlive = func(pid int) bool { return pid == 111 }
	t.Cleanup(func() { PIDAlive = orig })

	if _, err := Advertise(dir, domain.Advertisement{Port: 9223, PID: 111}); err != nil {
		t.Fatal(err)
	}
	if _, err := Advertise(dir, domain.Advertisement{Port: 9225, PID: 222}); err != nil {
		t.Fatal(err)
	}
	garbage := RecordPath(dir, 9226)
	if err := os.WriteFile(garbage, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	unrelated := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(unrelated, []byte("keep"), 0o600); err != nil {
		t.Fatal(err)
	}

	recs, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Port != 9223 {
		t.Fatalf("expected only the live record, got %+v", recs)
	}
	if _, err := os.Stat(RecordPath(dir, 9225)); !os.IsNotExist(err) {
		t.Fatal("expected dead-pid record to be purged")
	}
	if _, err := os.Stat(garbage); !os.IsNotExist(err) {
		t.Fatal("expected unparsable record to be purged")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatal("unrelated files must be left alone")
	}
}

func TestListMissingDir(t *testing.T) {
	t.Parallel()

	recs, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil || recs != nil {
		t.Fatalf("expected empty result for missing dir, got %v %v", recs, err)
	}
}

func TestPIDAliveCurrentProcess(t *testing.T) {
	t.Parallel()

	if !PIDAlive(os.Getpid()) {
		t.Fatal("current process should be alive")
	}
	if PIDAlive(0) || PIDAlive(-5) {
		t.Fatal("non-positive pids are never alive")
	}
}

func TestWatchReportsRecords(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Change, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- Watch(ctx, dir, func(c Change) { changes <- c })
	}()

	// Give the watcher time to register the directory.
	deadline := time.Now().Add(2 * time.Second)
	var path string
	for time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
		var err error
		path, err = Advertise(dir, domain.Advertisement{Port: 9230})
		if err != nil {
			t.Fatal(err)
		}
		select {
		case c := <-changes:
			if c.Kind != RecordAdded || c.Path != path {
				t.Fatalf("unexpected change %+v", c)
			}
			cancel()
			if err := <-errCh; err != nil {
				t.Fatal(err)
			}
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
	t.Fatal("no change observed")
}
