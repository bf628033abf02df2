package bridge

import (
	"time"

	"github.com/koltyakov/plugbridge/internal/domain"
	"github.com/koltyakov/plugbridge/internal/telemetry"
)

// session is the registry record for one file key. All fields are guarded
// by Server.mu; buffers carry their own locking.
type session struct {
	fileKey     string
	fileName    string
	currentPage string
	connectedAt time.Time

	// conn is nil while the session is in its grace period.
	conn    *conn
	buffers *telemetry.Buffers

	graceTimer *time.Timer
	// graceGen invalidates timers that fired while a reconnect was being
	// handled.
	graceGen uint64
}

func newSession(fileKey, fileName, page string, c *conn, caps telemetry.Capacities) *session {
	return &session{
		fileKey:     fileKey,
		fileName:    fileName,
		currentPage: page,
		connectedAt: time.Now(),
		conn:        c,
		buffers:     telemetry.NewBuffers(caps),
	}
}

func (s *session) connected() bool {
	return s.conn != nil
}

func (s *session) state() string {
	if s.connected() {
		return domain.SessionStateConnected
	}
	return domain.SessionStateGrace
}

func (s *session) stopGraceTimer() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	s.graceGen++
}

func (s *session) info(activeKey string) domain.SessionInfo {
	return domain.SessionInfo{
		FileKey:     s.fileKey,
		FileName:    s.fileName,
		CurrentPage: s.currentPage,
		ConnectedAt: s.connectedAt,
		IsActive:    s.fileKey == activeKey,
		State:       s.state(),
	}
}
