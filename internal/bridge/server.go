// Package bridge is the WebSocket RPC runtime between the bridge process and
// plugin runtimes embedded in the host application. It owns session
// identification, active-target arbitration, request correlation, the
// reconnect grace period, and per-session telemetry buffers.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/koltyakov/plugbridge/internal/config"
	"github.com/koltyakov/plugbridge/internal/domain"
	"github.com/koltyakov/plugbridge/internal/netutil"
	"github.com/koltyakov/plugbridge/internal/portdisco"
)

const (
	writePumpControlCap = 8
	writePumpRequestCap = 64
	httpReadHeaderLimit = 10 * time.Second
	shutdownWait        = 5 * time.Second
)

// Server accepts plugin connections and exposes the call and telemetry
// surface consumed by the tool layer.
type Server struct {
	cfg    config.BridgeConfig
	log    *slog.Logger
	router *router
	events *eventHub

	// mu serializes every registry mutation: sessions, pending connections,
	// and the active key change together.
	mu           sync.Mutex
	sessions     map[string]*session
	pendingConns map[string]*conn
	activeKey    string
	running      bool
	stopping     bool

	listener   net.Listener
	httpServer *http.Server
	port       int
	advertPath string
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	malformedLog *rate.Limiter
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func New(cfg config.BridgeConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:          cfg,
		log:          logger,
		router:       newRouter(),
		events:       newEventHub(),
		sessions:     map[string]*session{},
		pendingConns: map[string]*conn{},
		malformedLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Start binds the first free port in the configured range, writes an
// advertisement record when an advertise directory is set, and begins
// accepting plugin connections. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("bridge already running")
	}
	s.mu.Unlock()

	ln, port, err := portdisco.Listen(ctx, s.cfg.Host, s.cfg.Port, s.cfg.PortRangeSize)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.Host, err)
	}
	if !netutil.IsLoopbackHost(s.cfg.Host) {
		s.log.Warn("bridge reachable beyond this machine; connections are unauthenticated", "host", s.cfg.Host)
	}
	if port != s.cfg.Port && s.cfg.Port != 0 {
		s.log.Info("preferred port busy, using fallback", "preferred", s.cfg.Port, "port", port)
	}
	return s.serve(ln, port)
}

func (s *Server) serve(ln net.Listener, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/", s.handleRoot)

	runCtx, cancel := context.WithCancel(context.Background())
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: httpReadHeaderLimit,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = httpServer
	s.port = port
	s.cancel = cancel
	s.running = true
	s.stopping = false
	s.mu.Unlock()
	s.router.open()

	if s.cfg.AdvertiseDir != "" {
		path, err := portdisco.Advertise(s.cfg.AdvertiseDir, domain.Advertisement{
			Port:      port,
			Host:      s.cfg.Host,
			StartedAt: time.Now(),
		})
		if err != nil {
			s.log.Warn("failed to write port advertisement", "dir", s.cfg.AdvertiseDir, "err", err)
		} else {
			s.mu.Lock()
			s.advertPath = path
			s.mu.Unlock()
		}
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runJanitor(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("bridge listener stopped", "err", err)
		}
	}()

	s.log.Info("bridge listening", "addr", ln.Addr().String(), "port", port)
	return nil
}

// Stop rejects every in-flight call with [domain.ErrShuttingDown], then drops
// all sessions immediately (no grace period), closes sockets and the
// listener, and withdraws the advertisement record.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.stopping = true
	s.mu.Unlock()

	rejected := s.router.shutdown(domain.ErrShuttingDown)

	s.mu.Lock()
	conns := make([]*conn, 0, len(s.sessions)+len(s.pendingConns))
	for key, sess := range s.sessions {
		sess.stopGraceTimer()
		if sess.conn != nil {
			conns = append(conns, sess.conn)
		}
		sess.buffers.Reset()
		delete(s.sessions, key)
	}
	for id, c := range s.pendingConns {
		conns = append(conns, c)
		delete(s.pendingConns, id)
	}
	s.activeKey = ""
	httpServer := s.httpServer
	cancel := s.cancel
	advertPath := s.advertPath
	s.advertPath = ""
	s.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.CloseGoingAway, "bridge shutting down")
	}
	if cancel != nil {
		cancel()
	}

	var firstErr error
	if httpServer != nil {
		firstErr = shutdownServer(httpServer, shutdownWait)
	}
	if advertPath != "" {
		if err := portdisco.Withdraw(advertPath); err != nil {
			s.log.Warn("failed to remove port advertisement", "path", advertPath, "err", err)
		}
	}
	waitGroupWait(&s.wg, shutdownWait)
	s.log.Info("bridge stopped", "rejected_calls", rejected, "closed_connections", len(conns))
	return firstErr
}

// Port returns the bound port, or 0 when not listening.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.port
}

// IsListening reports whether the bridge accepts connections.
func (s *Server) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Subscribe returns a channel of registry events and a function that
// unsubscribes and closes it.
func (s *Server) Subscribe(buffer int) (<-chan Event, func()) {
	return s.events.subscribe(buffer)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"service":  "plugbridge",
			"sessions": len(s.ListSessions()),
		})
		return
	}
	s.handleConnect(w, r)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.ListSessions())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "err", err)
		return
	}
	if s.cfg.MaxMessageBytes > 0 {
		ws.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	c := newConn(ws, r.RemoteAddr, s.cfg.WriteTimeout)

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		c.close(websocket.CloseGoingAway, "bridge shutting down")
		return
	}
	s.pendingConns[c.id] = c
	s.wg.Add(1)
	s.mu.Unlock()
	s.log.Debug("plugin connected, awaiting identification", "conn_id", c.id, "remote", c.remote)

	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}
