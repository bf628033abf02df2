package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/koltyakov/plugbridge/internal/config"
	"github.com/koltyakov/plugbridge/internal/domain"
	"github.com/koltyakov/plugbridge/internal/log"
	"github.com/koltyakov/plugbridge/internal/portdisco"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCommand(&out, &errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "plugbridge "+Version) {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "discover", "--bogus")
	if err == nil {
		t.Fatal("expected error")
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
	if code := exitCode(errors.New("boom")); code != 1 {
		t.Fatalf("expected exit code 1 for runtime errors, got %d", code)
	}
}

func TestServeHelpListsFlags(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "serve", "--help")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"--port", "--grace-period", "--config", "PLUGBRIDGE_"} {
		if !strings.Contains(out, want) {
			t.Fatalf("help output missing %q:\n%s", want, out)
		}
	}
}

func TestServeInvalidConfigIsUsageError(t *testing.T) {
	t.Parallel()

	_, err := execute(t, "serve", "--port=-1")
	if err == nil {
		t.Fatal("expected config error")
	}
	if code := exitCode(err); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestDiscoverCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := portdisco.Advertise(dir, domain.Advertisement{Port: 9300, Host: "localhost", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "discover", "--dir", dir, "--port", "9300", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var records []domain.Advertisement
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(records) != 1 || records[0].Port != 9300 || records[0].PID != os.Getpid() {
		t.Fatalf("unexpected records %+v", records)
	}

	out, err = execute(t, "discover", "--dir", dir, "--port", "9400")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "no running bridges") {
		t.Fatalf("expected empty listing for another range, got %q", out)
	}

	out, err = execute(t, "discover", "--dir", dir, "--all")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "9300") || !strings.Contains(out, "PORT") {
		t.Fatalf("unexpected table %q", out)
	}
}

func TestRunServeLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.AdvertiseDir = dir
	cfg.PingInterval = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServe(ctx, cfg, log.Discard()) }()

	var port int
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) && port == 0 {
		records, _ := portdisco.List(dir)
		if len(records) > 0 {
			port = records[0].Port
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if port == 0 {
		cancel()
		t.Fatal("bridge never advertised")
	}

	infos, err := fetchSessions(context.Background(), http.DefaultClient, "127.0.0.1", port)
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected no sessions, got %+v", infos)
	}

	out, err := execute(t, "sessions", "--host", "127.0.0.1", "--port", strconv.Itoa(port))
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	if !strings.Contains(out, "no plugin sessions") {
		t.Fatalf("unexpected sessions output %q", out)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServe: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runServe did not stop")
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, "*.json")); len(matches) != 0 {
		t.Fatalf("advertisement not withdrawn: %v", matches)
	}
}

func TestPrintSessionsTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := printSessions(&buf, []domain.SessionInfo{
		{FileKey: "abc", FileName: "Design", CurrentPage: "Page 1", State: domain.SessionStateConnected, IsActive: true, ConnectedAt: time.Now()},
		{FileKey: "def", FileName: "Icons", State: domain.SessionStateGrace, ConnectedAt: time.Now()},
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[1], "*") || !strings.Contains(lines[2], "grace") {
		t.Fatalf("unexpected rows %q", lines)
	}
}

func TestParseEnvAssignment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{line: "PLUGBRIDGE_PORT=9300", key: "PLUGBRIDGE_PORT", value: "9300", ok: true},
		{line: "export PLUGBRIDGE_HOST = 'localhost'", key: "PLUGBRIDGE_HOST", value: "localhost", ok: true},
		{line: `PLUGBRIDGE_LOG_LEVEL="debug"`, key: "PLUGBRIDGE_LOG_LEVEL", value: "debug", ok: true},
		{line: "# comment", ok: false},
		{line: "", ok: false},
		{line: "NOEQUALS", ok: false},
		{line: "BAD KEY=1", ok: false},
	}
	for _, tc := range tests {
		key, value, ok := parseEnvAssignment(tc.line)
		if ok != tc.ok || key != tc.key || value != tc.value {
			t.Fatalf("parseEnvAssignment(%q) = %q, %q, %v", tc.line, key, value, ok)
		}
	}
}

func TestLoadBridgeEnvFromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "PLUGBRIDGE_GRACE_PERIOD=9s\nPLUGBRIDGE_LOG_LEVEL=debug\nOTHER_VAR=x\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLUGBRIDGE_GRACE_PERIOD", "")
	t.Setenv("PLUGBRIDGE_LOG_LEVEL", "warn")
	t.Setenv("OTHER_VAR", "")

	loadBridgeEnvFromDotEnv(path)

	if got := os.Getenv("PLUGBRIDGE_GRACE_PERIOD"); got != "9s" {
		t.Fatalf("expected value from .env, got %q", got)
	}
	if got := os.Getenv("PLUGBRIDGE_LOG_LEVEL"); got != "warn" {
		t.Fatalf("existing variable must win, got %q", got)
	}
	if got := os.Getenv("OTHER_VAR"); got != "" {
		t.Fatalf("non-prefixed variables must be ignored, got %q", got)
	}
}
