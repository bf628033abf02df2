package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koltyakov/plugbridge/internal/bridgeproto"
	"github.com/koltyakov/plugbridge/internal/domain"
)

// Call sends method with params to the session named by fileKey, or to the
// active session when fileKey is empty, and waits for the reply.
//
// A zero timeout uses the configured default; any timeout is capped at the
// configured maximum. Errors match (via errors.Is / errors.As)
// domain.ErrTransportUnavailable, domain.ErrNoActiveSession,
// domain.ErrTimeout, domain.ErrShuttingDown, domain.ErrConnectionLost, or
// *domain.RemoteError. A call whose socket closes before the reply fails
// with domain.ErrConnectionLost; it is not replayed on a reconnect.
func (s *Server) Call(ctx context.Context, method string, params any, timeout time.Duration, fileKey string) (json.RawMessage, error) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, &domain.CallError{FileKey: fileKey, Method: method, Err: domain.ErrTransportUnavailable}
	}
	sess, err := s.resolveTargetLocked(fileKey)
	if err != nil {
		s.mu.Unlock()
		return nil, &domain.CallError{FileKey: fileKey, Method: method, Err: err}
	}
	target := sess.fileKey
	c := sess.conn
	s.mu.Unlock()

	if c == nil {
		return nil, &domain.CallError{FileKey: target, Method: method, Err: fmt.Errorf("%w: file is reconnecting", domain.ErrNoActiveSession)}
	}
	if params == nil {
		params = map[string]any{}
	}

	timeout = clampTimeout(timeout, s.cfg.DefaultCallTimeout, s.cfg.MaxCallTimeout)
	call, err := s.router.register(target, c.id, method, timeout)
	if err != nil {
		return nil, &domain.CallError{FileKey: target, Method: method, Err: err}
	}

	s.log.Debug("call dispatched", "req_id", call.id, "file_key", target, "method", method, "timeout", timeout)
	if err := c.pump.WriteRequest(bridgeproto.Request{ID: call.id, Method: method, Params: params}); err != nil {
		if s.router.complete(call.id, callOutcome{err: fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)}) {
			s.log.Warn("call write failed", "req_id", call.id, "file_key", target, "method", method, "err", err)
		}
	}

	select {
	case out := <-call.done:
		return s.finishCall(call, out)
	case <-ctx.Done():
		if s.router.complete(call.id, callOutcome{err: ctx.Err()}) {
			return nil, &domain.CallError{FileKey: target, Method: method, Err: ctx.Err()}
		}
		return s.finishCall(call, <-call.done)
	}
}

func (s *Server) finishCall(call *pendingCall, out callOutcome) (json.RawMessage, error) {
	if out.err != nil {
		s.log.Debug("call failed", "req_id", call.id, "file_key", call.fileKey, "method", call.method, "err", out.err)
		return nil, &domain.CallError{FileKey: call.fileKey, Method: call.method, Err: out.err}
	}
	return out.result, nil
}
