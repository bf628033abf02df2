package bridge

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/plugbridge/internal/bridgeproto"
	"github.com/koltyakov/plugbridge/internal/telemetry"
)

func (s *Server) readLoop(c *conn) {
	stopPing := s.startKeepalive(c)
	defer func() {
		stopPing()
		c.close(websocket.CloseNormalClosure, "")
		s.onDisconnect(c)
		s.log.Debug("plugin socket closed", "conn_id", c.id)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.log.Warn("plugin read error", "conn_id", c.id, "err", err)
			}
			return
		}
		s.extendReadDeadline(c)

		frame, err := bridgeproto.Decode(data)
		if err != nil {
			s.logMalformed(c, err)
			continue
		}
		s.dispatch(c, frame)
	}
}

func (s *Server) dispatch(c *conn, f bridgeproto.Frame) {
	switch f.Kind {
	case bridgeproto.KindIdentify:
		s.identify(c, *f.Identify)
	case bridgeproto.KindResponse:
		r := f.Response
		if !s.router.resolve(r.ID, r.Result, r.Error, r.HasError) {
			s.log.Debug("reply for unknown request ignored", "conn_id", c.id, "req_id", r.ID)
		}
	case bridgeproto.KindPing:
		if err := c.pump.WriteControl(bridgeproto.TypePong); err != nil {
			s.log.Debug("pong write failed", "conn_id", c.id, "err", err)
		}
	case bridgeproto.KindConsoleCapture:
		b := s.connBuffers(c, f.Type)
		if b == nil {
			return
		}
		cc := f.Console
		b.AddConsole(telemetry.NewConsoleEntry(cc.Timestamp, cc.Level, cc.Message, cc.Args, cc.Stack))
	case bridgeproto.KindDocumentChange:
		b := s.connBuffers(c, f.Type)
		if b == nil {
			return
		}
		dc := f.Change
		b.AddChange(telemetry.NewDocumentChange(dc.Timestamp, dc.ChangeCount, dc.HasStyleChanges, dc.HasNodeChanges, dc.ChangedNodeIDs, dc.ChangedStyleIDs))
	case bridgeproto.KindSelectionChange:
		b := s.connBuffers(c, f.Type)
		if b == nil {
			return
		}
		sc := f.Selection
		nodes := make([]telemetry.SelectedNode, 0, len(sc.Nodes))
		for _, n := range sc.Nodes {
			nodes = append(nodes, telemetry.SelectedNode{ID: n.ID, Name: n.Name, Type: n.Type})
		}
		b.SetSelection(telemetry.NewSelection(sc.Timestamp, nodes, sc.Count, sc.Page))
		s.promoteOnActivity(c)
	case bridgeproto.KindPageChange:
		b := s.connBuffers(c, f.Type)
		if b == nil {
			return
		}
		pc := f.Page
		ts := pc.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		b.SetPage(telemetry.PageInfo{ID: pc.PageID, Name: pc.PageName, Timestamp: ts})
		s.setCurrentPage(c, pc.PageName)
		s.promoteOnActivity(c)
	default:
		s.log.Debug("unknown frame type dropped", "conn_id", c.id, "type", f.Type)
	}
}

// connBuffers returns the telemetry buffers of the session c is identified
// as, or nil for an unidentified connection.
func (s *Server) connBuffers(c *conn, frameType string) *telemetry.Buffers {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.fileKey == "" {
		s.log.Debug("telemetry from unidentified connection dropped", "conn_id", c.id, "type", frameType)
		return nil
	}
	sess, ok := s.sessions[c.fileKey]
	if !ok {
		return nil
	}
	return sess.buffers
}

func (s *Server) setCurrentPage(c *conn, page string) {
	if page == "" {
		return
	}
	s.mu.Lock()
	if sess, ok := s.sessions[c.fileKey]; ok {
		sess.currentPage = page
	}
	s.mu.Unlock()
}

func (s *Server) logMalformed(c *conn, err error) {
	if !errors.Is(err, bridgeproto.ErrMalformedFrame) {
		s.log.Warn("frame decode failed", "conn_id", c.id, "err", err)
		return
	}
	if s.malformedLog.Allow() {
		s.log.Warn("malformed frame dropped", "conn_id", c.id, "err", err)
		return
	}
	s.log.Debug("malformed frame dropped", "conn_id", c.id, "err", err)
}
