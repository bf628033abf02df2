package bridge

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const minJanitorInterval = 100 * time.Millisecond

// runJanitor drops connections that never identified themselves.
func (s *Server) runJanitor(ctx context.Context) {
	interval := s.cfg.IdentifyTimeout / 2
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireUnidentified(time.Now())
		}
	}
}

func (s *Server) expireUnidentified(now time.Time) int {
	s.mu.Lock()
	var stale []*conn
	for id, c := range s.pendingConns {
		if now.Sub(c.openedAt) < s.cfg.IdentifyTimeout {
			continue
		}
		delete(s.pendingConns, id)
		stale = append(stale, c)
	}
	s.mu.Unlock()

	for _, c := range stale {
		s.log.Warn("connection never identified, closing", "conn_id", c.id, "remote", c.remote)
		c.close(websocket.ClosePolicyViolation, "identification timeout")
	}
	return len(stale)
}

// startKeepalive pings the socket every PingInterval and arms a read
// deadline of two intervals, so a peer that vanished without a close frame
// (e.g. host sleep) is detected and enters the grace period.
func (s *Server) startKeepalive(c *conn) func() {
	interval := s.cfg.PingInterval
	if interval <= 0 {
		return func() {}
	}
	s.extendReadDeadline(c)
	c.ws.SetPongHandler(func(string) error {
		s.extendReadDeadline(c)
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWriteWait)); err != nil {
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (s *Server) extendReadDeadline(c *conn) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
}
