package bridge

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koltyakov/plugbridge/internal/domain"
)

// pendingCall is the in-flight state of one request. It is removed from the
// router table exactly once, by whichever of reply, timeout, socket loss, or
// shutdown gets there first.
type pendingCall struct {
	id      string
	fileKey string
	connID  string
	method  string
	timer   *time.Timer
	done    chan callOutcome
}

type callOutcome struct {
	result json.RawMessage
	err    error
}

// router correlates outbound requests with inbound replies.
type router struct {
	seq atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool
}

func newRouter() *router {
	return &router{pending: make(map[string]*pendingCall)}
}

func (r *router) nextRequestID() string {
	b := make([]byte, 0, 32)
	b = append(b, "req_"...)
	b = strconv.AppendInt(b, time.Now().UnixNano(), 10)
	b = append(b, '_')
	b = strconv.AppendUint(b, r.seq.Add(1), 10)
	return string(b)
}

// open allows new calls after a shutdown.
func (r *router) open() {
	r.mu.Lock()
	r.closed = false
	r.mu.Unlock()
}

// register stores a pending call and arms its timeout. The timer only holds
// the request id; resolution goes back through complete.
func (r *router) register(fileKey, connID, method string, timeout time.Duration) (*pendingCall, error) {
	call := &pendingCall{
		id:      r.nextRequestID(),
		fileKey: fileKey,
		connID:  connID,
		method:  method,
		done:    make(chan callOutcome, 1),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrShuttingDown
	}
	r.pending[call.id] = call
	id := call.id
	call.timer = time.AfterFunc(timeout, func() {
		r.complete(id, callOutcome{err: domain.ErrTimeout})
	})
	return call, nil
}

// complete resolves the pending call with id. It reports false when the id
// is unknown, e.g. already resolved by another path.
func (r *router) complete(id string, out callOutcome) bool {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	call.timer.Stop()
	call.done <- out
	return true
}

// resolve routes an inbound reply.
func (r *router) resolve(id string, result json.RawMessage, remoteErr string, hasErr bool) bool {
	if hasErr {
		return r.complete(id, callOutcome{err: &domain.RemoteError{Message: remoteErr}})
	}
	return r.complete(id, callOutcome{result: result})
}

// failConn rejects every call written to the socket connID with err and
// returns how many were rejected.
func (r *router) failConn(connID string, err error) int {
	r.mu.Lock()
	var calls []*pendingCall
	for id, call := range r.pending {
		if call.connID != connID {
			continue
		}
		delete(r.pending, id)
		calls = append(calls, call)
	}
	r.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done <- callOutcome{err: err}
	}
	return len(calls)
}

// shutdown rejects every pending call with err and refuses new ones until
// open is called. It returns the number of calls rejected.
func (r *router) shutdown(err error) int {
	r.mu.Lock()
	r.closed = true
	calls := make([]*pendingCall, 0, len(r.pending))
	for id, call := range r.pending {
		delete(r.pending, id)
		calls = append(calls, call)
	}
	r.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done <- callOutcome{err: err}
	}
	return len(calls)
}

func (r *router) inFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *router) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	return ok
}

// clampTimeout applies the default for non-positive values and caps at max.
func clampTimeout(timeout, def, max time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = def
	}
	if max > 0 && timeout > max {
		timeout = max
	}
	return timeout
}
