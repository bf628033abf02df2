package ops

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koltyakov/plugbridge/internal/bridge"
	"github.com/koltyakov/plugbridge/internal/config"
	"github.com/koltyakov/plugbridge/internal/log"
)

func TestSocketConnectorOverBridge(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.AdvertiseDir = ""
	cfg.PingInterval = 0
	srv := bridge.New(cfg, log.Discard())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	conn, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:"+strconv.Itoa(srv.Port())+"/", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := conn.WriteJSON(map[string]any{
		"type": "FILE_INFO",
		"data": map[string]any{"fileKey": "abc", "fileName": "Design"},
	}); err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			var req struct {
				ID     string          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			_ = conn.WriteJSON(map[string]any{"id": req.ID, "result": map[string]any{"method": req.Method, "params": req.Params}})
		}
	}()

	socket := NewSocketConnector(srv)
	cdp := NewCDPConnector("", log.Discard())

	deadline := time.Now().Add(3 * time.Second)
	var picked Connector
	for time.Now().Before(deadline) {
		if c, err := Select(context.Background(), socket, cdp); err == nil {
			picked = c
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if picked == nil || picked.Name() != "socket" {
		t.Fatalf("expected socket connector, got %v", picked)
	}

	res, err := picked.RenameNode(context.Background(), "1:2", "Header")
	if err != nil {
		t.Fatal(err)
	}
	var echo struct {
		Method string `json:"method"`
		Params struct {
			NodeID  string `json:"nodeId"`
			NewName string `json:"newName"`
		} `json:"params"`
	}
	if err := json.Unmarshal(res, &echo); err != nil {
		t.Fatal(err)
	}
	if echo.Method != MethodRenameNode || echo.Params.NodeID != "1:2" || echo.Params.NewName != "Header" {
		t.Fatalf("unexpected echo %s", res)
	}
}
