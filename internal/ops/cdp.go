package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/koltyakov/plugbridge/internal/domain"
)

const (
	// DefaultDispatchFunc is the global the plugin UI exposes for
	// DevTools-driven calls.
	DefaultDispatchFunc = "__plugbridgeDispatch"

	defaultCDPTimeout   = 15 * time.Second
	availabilityTimeout = 2 * time.Second
	cdpReadLimit        = 32 << 20
)

// CDPConnector sends operations through the Chrome DevTools Protocol by
// evaluating a dispatch call in the plugin page. Calls are serialized over
// one lazily dialed debugger socket.
type CDPConnector struct {
	operations

	endpoint string
	dispatch string
	timeout  time.Duration
	client   *http.Client
	log      *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	seq  int64
}

// CDPOption configures a [CDPConnector].
type CDPOption func(*CDPConnector)

// WithDispatchFunc overrides the page global that receives calls.
func WithDispatchFunc(name string) CDPOption {
	return func(c *CDPConnector) { c.dispatch = name }
}

// WithCDPTimeout sets the default per-call timeout.
func WithCDPTimeout(d time.Duration) CDPOption {
	return func(c *CDPConnector) { c.timeout = d }
}

// WithHTTPClient sets the client used to list debugger targets.
func WithHTTPClient(hc *http.Client) CDPOption {
	return func(c *CDPConnector) { c.client = hc }
}

// NewCDPConnector returns a connector for endpoint, which is either a page
// debugger WebSocket URL (ws://...) or a DevTools HTTP root (http://host:port)
// whose first page target is used.
func NewCDPConnector(endpoint string, logger *slog.Logger, opts ...CDPOption) *CDPConnector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CDPConnector{
		endpoint: strings.TrimRight(endpoint, "/"),
		dispatch: DefaultDispatchFunc,
		timeout:  defaultCDPTimeout,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.operations = operations{invoke: c.call}
	return c
}

func (c *CDPConnector) Name() string { return "cdp" }

// Available dials the endpoint if needed and checks that the dispatch
// function exists in the page.
func (c *CDPConnector) Available(ctx context.Context) bool {
	if c.endpoint == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()

	name, _ := json.Marshal(c.dispatch)
	obj, err := c.evaluate(ctx, fmt.Sprintf("typeof globalThis[%s] === 'function'", name))
	if err != nil {
		c.log.Debug("cdp endpoint unavailable", "endpoint", c.endpoint, "err", err)
		return false
	}
	var ok bool
	return json.Unmarshal(obj.Value, &ok) == nil && ok
}

// Close drops the debugger socket. The connector redials on next use.
func (c *CDPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked()
}

func (c *CDPConnector) call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("%w: no cdp endpoint configured", domain.ErrTransportUnavailable)
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	if params == nil {
		params = map[string]any{}
	}
	expr, err := dispatchExpression(c.dispatch, method, params)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	obj, err := c.evaluate(callCtx, expr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = domain.ErrTimeout
		}
		return nil, &domain.CallError{Method: method, Err: err}
	}

	if obj.Type != "string" {
		return json.RawMessage("null"), nil
	}
	var text string
	if err := json.Unmarshal(obj.Value, &text); err != nil {
		return nil, &domain.CallError{Method: method, Err: fmt.Errorf("decode result: %w", err)}
	}
	return json.RawMessage(text), nil
}

// dispatchExpression builds an awaited call to the dispatch global whose
// result is JSON-encoded in the page.
func dispatchExpression(fn, method string, params any) (string, error) {
	name, err := json.Marshal(fn)
	if err != nil {
		return "", err
	}
	m, err := json.Marshal(method)
	if err != nil {
		return "", err
	}
	p, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return fmt.Sprintf(
		"(async () => { const r = await globalThis[%s](%s, %s); return JSON.stringify(r === undefined ? null : r); })()",
		name, m, p,
	), nil
}

type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type cdpResponse struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type remoteObject struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type evaluateResult struct {
	Result           remoteObject `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

func (c *CDPConnector) evaluate(ctx context.Context, expr string) (remoteObject, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.connLocked(ctx)
	if err != nil {
		return remoteObject{}, err
	}

	c.seq++
	id := c.seq
	data, err := json.Marshal(cdpRequest{
		ID:     id,
		Method: "Runtime.evaluate",
		Params: map[string]any{
			"expression":    expr,
			"awaitPromise":  true,
			"returnByValue": true,
		},
	})
	if err != nil {
		return remoteObject{}, err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		_ = c.dropLocked()
		return remoteObject{}, c.ioError(ctx, err)
	}

	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			_ = c.dropLocked()
			return remoteObject{}, c.ioError(ctx, err)
		}
		var resp cdpResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			c.log.Debug("cdp message dropped", "err", err)
			continue
		}
		if resp.ID != id {
			// Events and stale replies.
			continue
		}
		if resp.Error != nil {
			return remoteObject{}, &domain.RemoteError{Message: resp.Error.Message}
		}
		var res evaluateResult
		if err := json.Unmarshal(resp.Result, &res); err != nil {
			return remoteObject{}, fmt.Errorf("decode evaluate result: %w", err)
		}
		if d := res.ExceptionDetails; d != nil {
			text := d.Text
			if d.Exception != nil && d.Exception.Description != "" {
				text = d.Exception.Description
			}
			return remoteObject{}, &domain.RemoteError{Message: text}
		}
		return res.Result, nil
	}
}

// ioError keeps context expiry visible to callers and classifies
// everything else as a lost connection.
func (c *CDPConnector) ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", domain.ErrConnectionLost, err)
}

func (c *CDPConnector) connLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	wsURL, err := c.resolveTarget(ctx)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrTransportUnavailable, wsURL, err)
	}
	conn.SetReadLimit(cdpReadLimit)
	c.conn = conn
	c.log.Info("cdp connected", "target", wsURL)
	return conn, nil
}

func (c *CDPConnector) dropLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}

type cdpTarget struct {
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// resolveTarget maps an HTTP DevTools root to its first page target.
func (c *CDPConnector) resolveTarget(ctx context.Context) (string, error) {
	if strings.HasPrefix(c.endpoint, "ws://") || strings.HasPrefix(c.endpoint, "wss://") {
		return c.endpoint, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/json/list", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: list targets: %v", domain.ErrTransportUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: list targets: status %d", domain.ErrTransportUnavailable, resp.StatusCode)
	}
	var targets []cdpTarget
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", fmt.Errorf("decode targets: %w", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", fmt.Errorf("%w: no page target at %s", domain.ErrTransportUnavailable, c.endpoint)
}
