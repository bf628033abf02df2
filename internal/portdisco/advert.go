package portdisco

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/koltyakov/plugbridge/internal/domain"
)

const (
	recordPrefix = "plugbridge-"
	recordSuffix = ".json"
)

// RecordPath returns the advertisement file for port inside dir.
func RecordPath(dir string, port int) string {
	return filepath.Join(dir, recordPrefix+strconv.Itoa(port)+recordSuffix)
}

// Advertise writes rec into dir, keyed by its port. A zero PID is replaced
// with the current process id. The file is written atomically.
func Advertise(dir string, rec domain.Advertisement) (string, error) {
	if rec.PID == 0 {
		rec.PID = os.Getpid()
	}
	if err := ensureDir(dir); err != nil {
		return "", fmt.Errorf("create advertise dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	path := RecordPath(dir, rec.Port)
	tmp, err := os.CreateTemp(dir, recordPrefix+"*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return path, nil
}

// Withdraw removes an advertisement record. A missing file is not an error.
func Withdraw(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// PIDAlive reports whether a process with pid exists. It is a variable so
// tests can fake process state.
var PIDAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	return err == nil && ok
}

// Discover returns live advertisements in dir whose ports fall in the
// candidate range of preferred, sorted by port. Records that cannot be
// parsed or whose process is gone are deleted.
func Discover(dir string, preferred, size int) ([]domain.Advertisement, error) {
	inRange := make(map[int]bool)
	for _, p := range CandidatePorts(preferred, size) {
		inRange[p] = true
	}
	all, err := List(dir)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Advertisement, 0, len(all))
	for _, rec := range all {
		if inRange[rec.Port] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// List returns every live advertisement in dir, purging stale ones.
func List(dir string) ([]domain.Advertisement, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []domain.Advertisement
	for _, entry := range entries {
		if entry.IsDir() || !isRecordName(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rec, err := readRecord(path)
		if err != nil || !PIDAlive(rec.PID) {
			_ = Withdraw(path)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out, nil
}

func isRecordName(name string) bool {
	if !strings.HasPrefix(name, recordPrefix) || !strings.HasSuffix(name, recordSuffix) {
		return false
	}
	_, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, recordPrefix), recordSuffix))
	return err == nil
}

func readRecord(path string) (domain.Advertisement, error) {
	var rec domain.Advertisement
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, err
	}
	if rec.Port <= 0 {
		return rec, errors.New("advertisement without port")
	}
	return rec, nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
