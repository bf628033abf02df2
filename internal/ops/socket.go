package ops

import (
	"context"
	"encoding/json"
	"time"

	"github.com/koltyakov/plugbridge/internal/domain"
)

// Bridge is the part of the bridge server the socket connector needs.
// *bridge.Server satisfies it.
type Bridge interface {
	Call(ctx context.Context, method string, params any, timeout time.Duration, fileKey string) (json.RawMessage, error)
	IsListening() bool
	ListSessions() []domain.SessionInfo
}

// SocketConnector sends operations to a plugin over the bridge socket.
type SocketConnector struct {
	operations
	bridge  Bridge
	fileKey string
}

// NewSocketConnector targets the bridge's active session.
func NewSocketConnector(b Bridge) *SocketConnector {
	return newSocketConnector(b, "")
}

func newSocketConnector(b Bridge, fileKey string) *SocketConnector {
	c := &SocketConnector{bridge: b, fileKey: fileKey}
	c.operations = operations{invoke: c.call}
	return c
}

// ForFile returns a connector pinned to one file instead of the active
// session.
func (c *SocketConnector) ForFile(fileKey string) *SocketConnector {
	return newSocketConnector(c.bridge, fileKey)
}

func (c *SocketConnector) Name() string { return "socket" }

// Available reports whether the bridge is listening and its target session
// is connected.
func (c *SocketConnector) Available(context.Context) bool {
	if !c.bridge.IsListening() {
		return false
	}
	for _, s := range c.bridge.ListSessions() {
		target := s.IsActive
		if c.fileKey != "" {
			target = s.FileKey == c.fileKey
		}
		if target {
			return s.State == domain.SessionStateConnected
		}
	}
	return false
}

func (c *SocketConnector) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	return c.bridge.Call(ctx, method, params, timeout, c.fileKey)
}
