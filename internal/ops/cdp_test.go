package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/koltyakov/plugbridge/internal/domain"
	"github.com/koltyakov/plugbridge/internal/log"
)

// fakeDevTools answers Runtime.evaluate on /devtools/page/1 and lists that
// target on /json/list.
type fakeDevTools struct {
	srv *httptest.Server

	mu          sync.Mutex
	expressions []string
	reply       func(expr string) (json.RawMessage, bool)
}

func newFakeDevTools(t *testing.T, reply func(expr string) (json.RawMessage, bool)) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{reply: reply}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]cdpTarget{
			{Type: "service_worker", WebSocketDebuggerURL: f.wsURL() + "/devtools/worker/1"},
			{Type: "page", Title: "plugin", WebSocketDebuggerURL: f.wsURL() + "/devtools/page/1"},
		})
	})
	mux.HandleFunc("/devtools/page/1", f.serveSocket)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDevTools) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeDevTools) serveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.CloseNow() }()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var req struct {
			ID     int64 `json:"id"`
			Params struct {
				Expression string `json:"expression"`
			} `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		f.mu.Lock()
		f.expressions = append(f.expressions, req.Params.Expression)
		f.mu.Unlock()

		// Unrelated event ahead of the reply.
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"method":"Runtime.consoleAPICalled","params":{}}`))

		result, ok := f.reply(req.Params.Expression)
		if !ok {
			continue
		}
		resp, _ := json.Marshal(map[string]any{"id": req.ID, "result": result})
		if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
			return
		}
	}
}

func (f *fakeDevTools) lastExpression(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.expressions) == 0 {
		t.Fatal("no expression evaluated")
	}
	return f.expressions[len(f.expressions)-1]
}

func pluginPage(expr string) (json.RawMessage, bool) {
	if strings.HasPrefix(expr, "typeof globalThis") {
		return json.RawMessage(`{"result":{"type":"boolean","value":true}}`), true
	}
	value, _ := json.Marshal(`{"ok":true}`)
	return json.RawMessage(`{"result":{"type":"string","value":` + string(value) + `}}`), true
}

func TestCDPConnectorRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFakeDevTools(t, pluginPage)
	c := NewCDPConnector(f.wsURL()+"/devtools/page/1", log.Discard())
	t.Cleanup(func() { _ = c.Close() })

	ctx := context.Background()
	if !c.Available(ctx) {
		t.Fatal("expected endpoint to be available")
	}
	res, err := c.UpdateVariable(ctx, UpdateVariableParams{VariableID: "v1", ModeID: "m1", Value: 4})
	if err != nil {
		t.Fatal(err)
	}
	if string(res) != `{"ok":true}` {
		t.Fatalf("unexpected result %s", res)
	}
	expr := f.lastExpression(t)
	for _, want := range []string{`globalThis["__plugbridgeDispatch"]`, `"UPDATE_VARIABLE"`, `"variableId":"v1"`} {
		if !strings.Contains(expr, want) {
			t.Fatalf("expression %q missing %q", expr, want)
		}
	}
}

func TestCDPConnectorResolvesHTTPRoot(t *testing.T) {
	t.Parallel()

	f := newFakeDevTools(t, pluginPage)
	c := NewCDPConnector(f.srv.URL+"/", log.Discard(), WithDispatchFunc("__custom"))
	t.Cleanup(func() { _ = c.Close() })

	if _, err := c.GetSelection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if expr := f.lastExpression(t); !strings.Contains(expr, `globalThis["__custom"]`) {
		t.Fatalf("custom dispatch function not used: %q", expr)
	}
}

func TestCDPConnectorException(t *testing.T) {
	t.Parallel()

	f := newFakeDevTools(t, func(string) (json.RawMessage, bool) {
		return json.RawMessage(`{"result":{"type":"object"},"exceptionDetails":{"text":"Uncaught","exception":{"description":"Error: Node not found: 9:9"}}}`), true
	})
	c := NewCDPConnector(f.wsURL()+"/devtools/page/1", log.Discard())
	t.Cleanup(func() { _ = c.Close() })

	_, err := c.DeleteNode(context.Background(), "9:9")
	var remote *domain.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remote.Message != "Error: Node not found: 9:9" {
		t.Fatalf("unexpected message %q", remote.Message)
	}
}

func TestCDPConnectorTimeout(t *testing.T) {
	t.Parallel()

	f := newFakeDevTools(t, func(string) (json.RawMessage, bool) { return nil, false })
	c := NewCDPConnector(f.wsURL()+"/devtools/page/1", log.Discard(), WithCDPTimeout(100*time.Millisecond))
	t.Cleanup(func() { _ = c.Close() })

	start := time.Now()
	_, err := c.GetVariables(context.Background())
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestCDPConnectorWithoutEndpoint(t *testing.T) {
	t.Parallel()

	c := NewCDPConnector("", log.Discard())
	if c.Available(context.Background()) {
		t.Fatal("connector without endpoint must be unavailable")
	}
	if _, err := c.GetSelection(context.Background()); !errors.Is(err, domain.ErrTransportUnavailable) {
		t.Fatalf("expected ErrTransportUnavailable, got %v", err)
	}
}

func TestCDPConnectorUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewCDPConnector(url, log.Discard())
	if c.Available(context.Background()) {
		t.Fatal("closed endpoint must be unavailable")
	}
}

func TestDispatchExpressionQuotesArguments(t *testing.T) {
	t.Parallel()

	expr, err := dispatchExpression("fn", "EXECUTE_CODE", map[string]any{"code": `return "ok"`})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(expr, `globalThis["fn"]("EXECUTE_CODE", {"code":"return \"ok\""})`) {
		t.Fatalf("unexpected expression %q", expr)
	}
}
