package bridge

import (
	"fmt"
	"sort"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/plugbridge/internal/bridgeproto"
	"github.com/koltyakov/plugbridge/internal/domain"
	"github.com/koltyakov/plugbridge/internal/telemetry"
)

func (s *Server) capacities() telemetry.Capacities {
	return telemetry.Capacities{Console: s.cfg.ConsoleCapacity, Changes: s.cfg.ChangeCapacity}
}

// identify binds c to the session for info.FileKey, creating, superseding,
// or resuming it.
func (s *Server) identify(c *conn, info bridgeproto.FileInfo) {
	if info.FileKey == "" {
		s.log.Warn("identification without file key ignored", "conn_id", c.id)
		return
	}

	var (
		superseded *conn
		events     []Event
	)

	s.mu.Lock()
	if s.stopping || !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.pendingConns, c.id)

	if c.fileKey != "" && c.fileKey != info.FileKey {
		s.detachLocked(c)
	}

	sess, ok := s.sessions[info.FileKey]
	switch {
	case !ok:
		sess = newSession(info.FileKey, info.FileName, info.CurrentPage, c, s.capacities())
		s.sessions[info.FileKey] = sess
		events = append(events, Event{Type: EventFileConnected, FileKey: sess.fileKey, FileName: sess.fileName})
		if s.activeKey == "" {
			s.activeKey = sess.fileKey
			events = append(events, Event{Type: EventActiveChanged, FileKey: sess.fileKey, FileName: sess.fileName})
		}
		s.log.Info("file connected", "file_key", sess.fileKey, "file_name", sess.fileName, "active", s.activeKey == sess.fileKey)
	case sess.conn == nil:
		sess.stopGraceTimer()
		sess.conn = c
		s.log.Info("file reconnected within grace period", "file_key", sess.fileKey)
	case sess.conn != c:
		superseded = sess.conn
		sess.conn = c
		s.log.Info("file connection superseded", "file_key", sess.fileKey, "old_conn", superseded.id, "new_conn", c.id)
	}
	if info.FileName != "" {
		sess.fileName = info.FileName
	}
	if info.CurrentPage != "" {
		sess.currentPage = info.CurrentPage
		sess.buffers.SetPage(telemetry.PageInfo{ID: info.CurrentPageID, Name: info.CurrentPage})
	}
	c.fileKey = info.FileKey
	s.emitLocked(events...)
	s.mu.Unlock()

	if superseded != nil {
		superseded.close(websocket.CloseNormalClosure, "superseded by a newer connection")
	}
}

// detachLocked moves the session currently owned by c into its grace period.
// Caller holds s.mu.
func (s *Server) detachLocked(c *conn) {
	sess, ok := s.sessions[c.fileKey]
	if !ok || sess.conn != c {
		return
	}
	sess.conn = nil
	sess.stopGraceTimer()
	gen := sess.graceGen
	key := sess.fileKey
	sess.graceTimer = time.AfterFunc(s.cfg.GracePeriod, func() {
		s.expireGrace(key, gen)
	})
	s.log.Info("file disconnected, grace period started", "file_key", key, "grace", s.cfg.GracePeriod)
}

// resolveTarget returns the session a call should go to: the named one, or
// the active one when fileKey is empty. Caller holds s.mu.
func (s *Server) resolveTargetLocked(fileKey string) (*session, error) {
	if fileKey == "" {
		fileKey = s.activeKey
	}
	if fileKey == "" {
		return nil, domain.ErrNoActiveSession
	}
	sess, ok := s.sessions[fileKey]
	if !ok {
		return nil, fmt.Errorf("%w: unknown file %q", domain.ErrNoActiveSession, fileKey)
	}
	return sess, nil
}

// SetActiveSession makes fileKey the default call target. It reports false
// when no session has that key.
func (s *Server) SetActiveSession(fileKey string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[fileKey]
	if !ok {
		s.mu.Unlock()
		return false
	}
	changed := s.activeKey != fileKey
	s.activeKey = fileKey
	if changed {
		s.emitLocked(Event{Type: EventActiveChanged, FileKey: sess.fileKey, FileName: sess.fileName})
	}
	s.mu.Unlock()

	if changed {
		s.log.Info("active file changed", "file_key", fileKey, "reason", "explicit")
	}
	return true
}

// promoteOnActivity switches the active target to the session owned by c if
// it is connected and not already active.
func (s *Server) promoteOnActivity(c *conn) {
	s.mu.Lock()
	sess, ok := s.sessions[c.fileKey]
	if !ok || sess.conn != c || s.activeKey == sess.fileKey {
		s.mu.Unlock()
		return
	}
	key := sess.fileKey
	s.activeKey = key
	s.emitLocked(Event{Type: EventActiveChanged, FileKey: key, FileName: sess.fileName})
	s.mu.Unlock()

	s.log.Info("active file changed", "file_key", key, "reason", "activity")
}

// fallbackActiveLocked picks the next active session after the active one
// was removed: connected sessions before ones in grace, then earliest
// connectedAt, then file key. Caller holds s.mu.
func (s *Server) fallbackActiveLocked() *session {
	var best *session
	for _, sess := range s.sessions {
		if best == nil || sessionBefore(sess, best) {
			best = sess
		}
	}
	return best
}

func sessionBefore(a, b *session) bool {
	if a.connected() != b.connected() {
		return a.connected()
	}
	if !a.connectedAt.Equal(b.connectedAt) {
		return a.connectedAt.Before(b.connectedAt)
	}
	return a.fileKey < b.fileKey
}

// ListSessions returns every known session ordered by connection time.
func (s *Server) ListSessions() []domain.SessionInfo {
	s.mu.Lock()
	out := make([]domain.SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info(s.activeKey))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].FileKey < out[j].FileKey
	})
	return out
}

// ActiveSession returns the current default target, if any.
func (s *Server) ActiveSession() (domain.SessionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[s.activeKey]
	if !ok {
		return domain.SessionInfo{}, false
	}
	return sess.info(s.activeKey), true
}

// buffersFor returns the telemetry buffers of the named or active session.
func (s *Server) buffersFor(fileKey string) (*telemetry.Buffers, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.resolveTargetLocked(fileKey)
	if err != nil {
		return nil, err
	}
	return sess.buffers, nil
}

// ConsoleLogs returns buffered console entries of the named (or active)
// session.
func (s *Server) ConsoleLogs(fileKey string, f telemetry.ConsoleFilter) ([]telemetry.ConsoleEntry, error) {
	b, err := s.buffersFor(fileKey)
	if err != nil {
		return nil, err
	}
	return b.Console(f), nil
}

// ClearConsoleLogs empties the console buffer and returns how many entries
// were removed.
func (s *Server) ClearConsoleLogs(fileKey string) (int, error) {
	b, err := s.buffersFor(fileKey)
	if err != nil {
		return 0, err
	}
	return b.ClearConsole(), nil
}

// DocumentChanges returns buffered document-change events.
func (s *Server) DocumentChanges(fileKey string, f telemetry.ChangeFilter) ([]telemetry.DocumentChange, error) {
	b, err := s.buffersFor(fileKey)
	if err != nil {
		return nil, err
	}
	return b.Changes(f), nil
}

// DocumentChangeStats returns running document-change totals.
func (s *Server) DocumentChangeStats(fileKey string) (telemetry.ChangeStats, error) {
	b, err := s.buffersFor(fileKey)
	if err != nil {
		return telemetry.ChangeStats{}, err
	}
	return b.ChangeStats(), nil
}

// ClearDocumentChanges empties the change buffer and returns how many
// events were removed.
func (s *Server) ClearDocumentChanges(fileKey string) (int, error) {
	b, err := s.buffersFor(fileKey)
	if err != nil {
		return 0, err
	}
	return b.ClearChanges(), nil
}

// CurrentSelection returns the last reported selection. ok is false when the
// session never reported one.
func (s *Server) CurrentSelection(fileKey string) (sel telemetry.Selection, ok bool, err error) {
	b, err := s.buffersFor(fileKey)
	if err != nil {
		return telemetry.Selection{}, false, err
	}
	sel, ok = b.Selection()
	return sel, ok, nil
}
