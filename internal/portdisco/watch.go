package portdisco

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ChangeKind tells whether an advertisement appeared or disappeared.
type ChangeKind int

const (
	RecordAdded ChangeKind = iota
	RecordRemoved
)

// Change is one advertisement directory event.
type Change struct {
	Kind ChangeKind
	Path string
}

// Watch calls fn for every advertisement record created or removed in dir
// until ctx is done. The directory is created if missing.
func Watch(ctx context.Context, dir string, fn func(Change)) error {
	if err := ensureDir(dir); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isRecordName(filepath.Base(evt.Name)) {
				continue
			}
			switch {
			case evt.Has(fsnotify.Create), evt.Has(fsnotify.Write):
				fn(Change{Kind: RecordAdded, Path: evt.Name})
			case evt.Has(fsnotify.Remove), evt.Has(fsnotify.Rename):
				fn(Change{Kind: RecordRemoved, Path: evt.Name})
			}
		}
	}
}
