package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/koltyakov/plugbridge/internal/bridgeproto"
)

const closeWriteWait = time.Second

// conn is one plugin socket. Its fileKey is set on identification and only
// read or written under Server.mu.
type conn struct {
	id       string
	ws       *websocket.Conn
	pump     *bridgeproto.WritePump
	remote   string
	openedAt time.Time
	fileKey  string

	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, remote string, writeTimeout time.Duration) *conn {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &conn{
		id:       uuid.NewString(),
		ws:       ws,
		pump:     bridgeproto.NewWritePump(ws, writeTimeout, writePumpControlCap, writePumpRequestCap),
		remote:   remote,
		openedAt: time.Now(),
	}
}

// close sends a close frame and tears the socket down. Safe to call more
// than once and from any goroutine.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWriteWait))
		_ = c.ws.Close()
		go c.pump.Close()
	})
}
