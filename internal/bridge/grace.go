package bridge

import "github.com/koltyakov/plugbridge/internal/domain"

// onDisconnect runs when a socket's read loop ends. An identified socket
// that still owns its session puts the session into the grace period; a
// superseded or unidentified socket is simply forgotten. Calls still waiting
// on the socket fail with domain.ErrConnectionLost either way.
func (s *Server) onDisconnect(c *conn) {
	s.mu.Lock()
	delete(s.pendingConns, c.id)
	fileKey := c.fileKey
	if !s.stopping && s.running && fileKey != "" {
		s.detachLocked(c)
	}
	s.mu.Unlock()

	if n := s.router.failConn(c.id, domain.ErrConnectionLost); n > 0 {
		s.log.Warn("calls rejected after socket closed", "conn_id", c.id, "file_key", fileKey, "calls", n)
	}
}

// expireGrace removes a session whose grace period elapsed without a
// reconnect. gen guards against a timer that fired concurrently with a
// reconnect.
func (s *Server) expireGrace(fileKey string, gen uint64) {
	var events []Event

	s.mu.Lock()
	sess, ok := s.sessions[fileKey]
	if !ok || sess.graceGen != gen || sess.connected() {
		s.mu.Unlock()
		return
	}
	sess.graceTimer = nil
	delete(s.sessions, fileKey)
	sess.buffers.Reset()
	events = append(events, Event{Type: EventFileDisconnected, FileKey: sess.fileKey, FileName: sess.fileName})

	if s.activeKey == fileKey {
		s.activeKey = ""
		next := s.fallbackActiveLocked()
		evt := Event{Type: EventActiveChanged}
		if next != nil {
			s.activeKey = next.fileKey
			evt.FileKey = next.fileKey
			evt.FileName = next.fileName
		}
		events = append(events, evt)
	}
	newActive := s.activeKey
	s.emitLocked(events...)
	s.mu.Unlock()

	s.log.Info("file removed after grace period", "file_key", fileKey, "active", newActive)
}
