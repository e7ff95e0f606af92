package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sethfduke/chessdesk/auth"
	"github.com/sethfduke/chessdesk/config"
	"github.com/sethfduke/chessdesk/dispatch"
	"github.com/sethfduke/chessdesk/logging"
	"github.com/sethfduke/chessdesk/messages"
	"github.com/sethfduke/chessdesk/storage"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Server accepts WebSocket connections and routes their command envelopes
// through a frozen dispatch table onto a shared worker pool.
type Server struct {
	Upgrader websocket.Upgrader
	Log      logging.Logger

	Port int
	Host string

	table   *dispatch.Table
	pool    *Pool
	storage storage.Opener
	paths   config.Paths
	version string

	conns   map[string]*conn
	connsMu sync.RWMutex

	tokenValidator auth.TokenValidator
	requireToken   bool

	pingInterval time.Duration
	pingTimeout  time.Duration

	healthEndpoint string
	maxConnections int

	workers    int
	sendBuffer int
	closeGrace time.Duration

	readTimeout  time.Duration
	writeTimeout time.Duration
	idleTimeout  time.Duration

	started time.Time
	httpMu  sync.Mutex
	httpSrv *http.Server
}

// NewServer creates a Server serving the commands of table. The table is
// frozen. A storage opener and a database path are required; their absence
// is a ConfigurationError.
func NewServer(table *dispatch.Table, opts ...Option) (*Server, error) {
	s := &Server{
		Upgrader:     websocket.Upgrader{EnableCompression: true},
		Log:          logging.New(slog.Default()),
		Host:         "127.0.0.1",
		Port:         3012,
		table:        table,
		conns:        make(map[string]*conn),
		version:      "dev",
		sendBuffer:   128,
		closeGrace:   5 * time.Second,
		readTimeout:  15 * time.Second,
		writeTimeout: 15 * time.Second,
		idleTimeout:  60 * time.Second,
		started:      time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case table == nil:
		return nil, &messages.ConfigurationError{Name: "commands", Reason: "command table is required"}
	case s.storage == nil:
		return nil, &messages.ConfigurationError{Name: "storage", Reason: "storage opener is required"}
	case s.paths.DatabasePath == "":
		return nil, &messages.ConfigurationError{Name: "paths", Reason: "database path is required"}
	case s.requireToken && s.tokenValidator == nil:
		return nil, &messages.ConfigurationError{Name: "auth", Reason: "token required but no validator configured"}
	}

	table.Freeze()
	s.pool = NewPool(s.workers, s.Log.With("component", "pool"))
	s.Log.Info("commands registered", "commands", table.Names(), "workers", s.pool.Size())
	return s, nil
}

// Handler returns the HTTP handler serving /ws and the health endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.wsHandler)
	if s.healthEndpoint != "" {
		mux.HandleFunc(s.healthEndpoint, s.healthHandler)
	}
	return mux
}

// Addr returns the host:port the server binds.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Serve listens on Addr and serves until Shutdown is called. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		s.Log.Error("listen failed", "addr", s.Addr(), "err", err)
		return err
	}
	return s.ServeListener(ln)
}

// ServeListener serves on an existing listener.
func (s *Server) ServeListener(ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}
	s.httpMu.Lock()
	s.httpSrv = httpSrv
	s.httpMu.Unlock()

	s.Log.Info("http listen", "addr", ln.Addr().String())
	return httpSrv.Serve(ln)
}

// Shutdown stops accepting connections and requests, closes the open
// connections and waits for the worker pool to drain or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpMu.Lock()
	httpSrv := s.httpSrv
	s.httpMu.Unlock()

	var err error
	if httpSrv != nil {
		err = httpSrv.Shutdown(ctx)
	}

	s.pool.Close()
	s.connsMu.RLock()
	for _, c := range s.conns {
		c.client.Close()
	}
	s.connsMu.RUnlock()

	if werr := s.pool.Wait(ctx); werr != nil {
		s.Log.Warn("worker pool did not drain", "running", s.pool.Running(), "pending", s.pool.Pending())
		if err == nil {
			err = werr
		}
	}
	return err
}

// Pool returns the worker pool shared by all connections.
func (s *Server) Pool() *Pool { return s.pool }

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// healthHandler handles health check requests
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"connections": s.Connections(),
		"running":     s.pool.Running(),
		"pending":     s.pool.Pending(),
		"workers":     s.pool.Size(),
		"commands":    s.table.Names(),
		"uptime":      time.Since(s.started).String(),
	}
	if s.maxConnections > 0 {
		response["max_connections"] = s.maxConnections
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// wsHandler upgrades the request and runs the connection's read loop.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	s.Log.Debug("received request", "method", r.Method, "path", r.URL.Path)

	if s.maxConnections > 0 && s.Connections() >= s.maxConnections {
		s.Log.Warn("connection limit reached", "max", s.maxConnections)
		http.Error(w, "Service Unavailable: Connection limit reached", http.StatusServiceUnavailable)
		return
	}

	ctx := r.Context()
	if s.tokenValidator != nil {
		tok, ok := auth.BearerFromRequest(r)
		switch {
		case ok:
			claims, err := s.tokenValidator.ParseAndValidate(tok)
			if err != nil {
				s.Log.Warn("rejected session token", "err", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ctx = WithClaims(ctx, claims)
		case s.requireToken:
			http.Error(w, "Unauthorized: token required", http.StatusUnauthorized)
			return
		}
	}

	ws, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Error("upgrade failed", "err", err)
		return
	}

	id := uuid.NewString()
	if s.pingInterval > 0 {
		pongWait := s.pingTimeout
		if pongWait <= 0 {
			pongWait = 5 * time.Second
		}
		deadline := s.pingInterval + pongWait
		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(deadline))
		})
	}

	client := NewClientWithPing(id, ws, s.sendBuffer, s.pingInterval, s.pingTimeout)
	client.writeTimeout = s.writeTimeout
	go client.writePump()

	c := newConn(WithConnectionID(ctx, id), s, id, client)
	s.addConn(c)
	defer func() {
		c.teardown()
		s.removeConn(id)
	}()

	c.onOpen()
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				c.onClose(ce.Code, ce.Text)
			case isNormalDisconnect(err):
				c.onClose(websocket.CloseAbnormalClosure, err.Error())
			default:
				c.onError(&messages.TransportError{Op: "receive", Err: err})
			}
			return
		}
		c.onMessage(mt, data)
	}
}

// addConn registers a new connection with the server.
func (s *Server) addConn(c *conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[c.id] = c
	s.Log.Info("client connected", "id", c.id, "connections", len(s.conns))
}

// removeConn unregisters a connection from the server.
func (s *Server) removeConn(id string) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, id)
	s.Log.Info("client disconnected", "id", id, "connections", len(s.conns))
}

// isNormalDisconnect checks if an error represents a normal WebSocket disconnection
// that doesn't require error logging.
func isNormalDisconnect(err error) bool {
	if err == nil {
		return false
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure,
	) {
		return true
	}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "unexpected EOF")
}
