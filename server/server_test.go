package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethfduke/chessdesk/auth"
	"github.com/sethfduke/chessdesk/config"
	"github.com/sethfduke/chessdesk/dispatch"
	"github.com/sethfduke/chessdesk/logging"
	"github.com/sethfduke/chessdesk/messages"
	"github.com/sethfduke/chessdesk/storage"

	"github.com/gorilla/websocket"
)

func testTable(t *testing.T) *dispatch.Table {
	t.Helper()
	table, err := dispatch.NewTable(dispatch.Command("test::echo", func(req dispatch.Request, args echoArgs) error {
		return req.Send(messages.EventName(req.Name(), "echo"), args)
	}))
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return table
}

func baseOptions(t *testing.T) []Option {
	t.Helper()
	return []Option{
		WithLogger(logging.Discard()),
		WithStorage(storage.Default),
		WithPaths(config.Paths{DatabasePath: filepath.Join(t.TempDir(), "test.db")}),
	}
}

func newTestServer(t *testing.T, table *dispatch.Table, opts ...Option) *Server {
	t.Helper()
	srv, err := NewServer(table, append(baseOptions(t), opts...)...)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func TestNewServer(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		srv := newTestServer(t, testTable(t))

		if srv.Host != "127.0.0.1" {
			t.Errorf("expected default host '127.0.0.1', got %q", srv.Host)
		}
		if srv.Port != 3012 {
			t.Errorf("expected default port 3012, got %d", srv.Port)
		}
		if srv.Addr() != "127.0.0.1:3012" {
			t.Errorf("expected addr '127.0.0.1:3012', got %q", srv.Addr())
		}
		if !srv.Upgrader.EnableCompression {
			t.Error("expected compression to be enabled by default")
		}
		if srv.closeGrace != 5*time.Second {
			t.Errorf("expected close grace 5s, got %v", srv.closeGrace)
		}
		if srv.Pool() == nil {
			t.Fatal("expected a worker pool")
		}
		if !srv.table.Frozen() {
			t.Error("expected the command table to be frozen")
		}
	})

	t.Run("configuration errors", func(t *testing.T) {
		tests := []struct {
			name  string
			table *dispatch.Table
			opts  []Option
		}{
			{"no table", nil, baseOptions(t)},
			{"no storage", testTable(t), []Option{WithPaths(config.Paths{DatabasePath: "x.db"})}},
			{"no database path", testTable(t), []Option{WithStorage(storage.Default)}},
			{"token without validator", testTable(t), append(baseOptions(t), WithTokenValidator(nil, true))},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := NewServer(tt.table, append(tt.opts, WithLogger(logging.Discard()))...)
				var ce *messages.ConfigurationError
				if !errors.As(err, &ce) {
					t.Errorf("expected ConfigurationError, got %v", err)
				}
			})
		}
	})

	t.Run("registration after start fails", func(t *testing.T) {
		table := testTable(t)
		newTestServer(t, table)
		err := table.Register(dispatch.Command("test::late", func(dispatch.Request, echoArgs) error { return nil }))
		var ce *messages.ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("expected ConfigurationError, got %v", err)
		}
	})
}

func TestServerOptions(t *testing.T) {
	t.Run("with host and port", func(t *testing.T) {
		srv := newTestServer(t, testTable(t), Host("localhost"), WithPort(8080))
		if srv.Addr() != "localhost:8080" {
			t.Errorf("expected addr 'localhost:8080', got %q", srv.Addr())
		}
	})

	t.Run("with check origin", func(t *testing.T) {
		srv := newTestServer(t, testTable(t), WithCheckOrigin(func(r *http.Request) bool { return true }))
		if srv.Upgrader.CheckOrigin == nil {
			t.Error("expected check origin function to be set")
		}
	})

	t.Run("with compression", func(t *testing.T) {
		srv := newTestServer(t, testTable(t), WithCompression(false))
		if srv.Upgrader.EnableCompression {
			t.Error("expected compression to be disabled")
		}
	})

	t.Run("with HS256 token", func(t *testing.T) {
		secret := []byte("test-secret")
		srv := newTestServer(t, testTable(t), WithHS256Token(secret, true))

		validator, ok := srv.tokenValidator.(*auth.HS256)
		if !ok {
			t.Fatalf("expected *auth.HS256, got %T", srv.tokenValidator)
		}
		if string(validator.Secret) != string(secret) {
			t.Error("expected secret to match")
		}
		if !srv.requireToken {
			t.Error("expected token to be required")
		}
	})

	t.Run("with custom token validator", func(t *testing.T) {
		custom := &auth.HS256{Secret: []byte("custom")}
		srv := newTestServer(t, testTable(t), WithTokenValidator(custom, false))
		if srv.tokenValidator != custom {
			t.Error("expected custom validator to be set")
		}
		if srv.requireToken {
			t.Error("expected token not to be required")
		}
	})

	t.Run("with ping", func(t *testing.T) {
		srv := newTestServer(t, testTable(t), WithPing(10*time.Second, 2*time.Second))
		if srv.pingInterval != 10*time.Second || srv.pingTimeout != 2*time.Second {
			t.Errorf("expected ping 10s/2s, got %v/%v", srv.pingInterval, srv.pingTimeout)
		}

		srv = newTestServer(t, testTable(t), WithDefaultPing())
		if srv.pingInterval != 30*time.Second || srv.pingTimeout != 5*time.Second {
			t.Errorf("expected ping 30s/5s, got %v/%v", srv.pingInterval, srv.pingTimeout)
		}
	})

	t.Run("with workers", func(t *testing.T) {
		srv := newTestServer(t, testTable(t), WithWorkers(3))
		if srv.Pool().Size() != 3 {
			t.Errorf("expected 3 workers, got %d", srv.Pool().Size())
		}
	})

	t.Run("with timeouts", func(t *testing.T) {
		srv := newTestServer(t, testTable(t),
			WithReadTimeout(time.Second),
			WithWriteTimeout(2*time.Second),
			WithIdleTimeout(3*time.Second),
			WithCloseGrace(4*time.Second),
		)
		if srv.readTimeout != time.Second || srv.writeTimeout != 2*time.Second || srv.idleTimeout != 3*time.Second {
			t.Errorf("unexpected timeouts %v/%v/%v", srv.readTimeout, srv.writeTimeout, srv.idleTimeout)
		}
		if srv.closeGrace != 4*time.Second {
			t.Errorf("expected close grace 4s, got %v", srv.closeGrace)
		}
	})

	t.Run("from config", func(t *testing.T) {
		c := &config.Config{
			Host:           "0.0.0.0",
			Port:           4000,
			Workers:        2,
			SendBuffer:     16,
			CloseGrace:     time.Second,
			PingInterval:   15 * time.Second,
			PingTimeout:    3 * time.Second,
			HealthEndpoint: "/status",
			TokenSecret:    "s3cret",
			RequireToken:   true,
		}
		p := config.Paths{DatabasePath: filepath.Join(t.TempDir(), "cfg.db")}
		opts := append([]Option{WithLogger(logging.Discard()), WithStorage(storage.Default)}, FromConfig(c, p)...)
		srv, err := NewServer(testTable(t), opts...)
		if err != nil {
			t.Fatalf("failed to create server: %v", err)
		}

		if srv.Addr() != "0.0.0.0:4000" {
			t.Errorf("expected addr '0.0.0.0:4000', got %q", srv.Addr())
		}
		if srv.Pool().Size() != 2 {
			t.Errorf("expected 2 workers, got %d", srv.Pool().Size())
		}
		if srv.sendBuffer != 16 {
			t.Errorf("expected send buffer 16, got %d", srv.sendBuffer)
		}
		if srv.pingInterval != 15*time.Second {
			t.Errorf("expected ping interval 15s, got %v", srv.pingInterval)
		}
		if srv.healthEndpoint != "/status" {
			t.Errorf("expected health endpoint '/status', got %q", srv.healthEndpoint)
		}
		if srv.tokenValidator == nil || !srv.requireToken {
			t.Error("expected a required token validator")
		}
		if srv.paths != p {
			t.Errorf("expected paths %+v, got %+v", p, srv.paths)
		}
	})
}

func TestContextHelpers(t *testing.T) {
	t.Run("connection id", func(t *testing.T) {
		ctx := WithConnectionID(context.Background(), "conn-1")
		id, ok := ConnectionIDFrom(ctx)
		if !ok || id != "conn-1" {
			t.Errorf("expected 'conn-1', got %q (ok=%v)", id, ok)
		}
		if _, ok := ConnectionIDFrom(context.Background()); ok {
			t.Error("expected no connection id in empty context")
		}
	})

	t.Run("claims", func(t *testing.T) {
		claims := &auth.Claims{Client: "chessdesk-ui"}
		got, ok := ClaimsFrom(WithClaims(context.Background(), claims))
		if !ok || got.Client != "chessdesk-ui" {
			t.Errorf("expected claims for 'chessdesk-ui', got %+v (ok=%v)", got, ok)
		}
	})
}

func TestHealthHandler(t *testing.T) {
	srv := newTestServer(t, testTable(t), WithHealthEndpoint("/health"), WithVersion("1.2.3"), WithWorkers(2))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content type 'application/json', got %q", ct)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", response["status"])
	}
	if response["version"] != "1.2.3" {
		t.Errorf("expected version '1.2.3', got %v", response["version"])
	}
	if response["connections"] != float64(0) {
		t.Errorf("expected 0 connections, got %v", response["connections"])
	}
	if response["workers"] != float64(2) {
		t.Errorf("expected 2 workers, got %v", response["workers"])
	}
	commands, ok := response["commands"].([]interface{})
	if !ok || len(commands) != 1 || commands[0] != "test::echo" {
		t.Errorf("expected commands [test::echo], got %v", response["commands"])
	}

	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, testTable(t))
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", w.Code)
		}
	})
}

func TestClient(t *testing.T) {
	t.Run("new client", func(t *testing.T) {
		conn := &websocket.Conn{}
		client := NewClient("test-client", conn, 64)

		if client.ID != "test-client" {
			t.Errorf("expected ID 'test-client', got %q", client.ID)
		}
		if client.Conn != conn {
			t.Error("expected connection to match")
		}
		if cap(client.sendCh) != 64 {
			t.Errorf("expected buffer of 64, got %d", cap(client.sendCh))
		}
		if client.pingInterval != 0 {
			t.Errorf("expected no ping, got %v", client.pingInterval)
		}
	})

	t.Run("new client with ping", func(t *testing.T) {
		client := NewClientWithPing("test-client", &websocket.Conn{}, 0, 30*time.Second, 5*time.Second)
		if client.pingInterval != 30*time.Second {
			t.Errorf("expected ping interval 30s, got %v", client.pingInterval)
		}
		if client.pingTimeout != 5*time.Second {
			t.Errorf("expected ping timeout 5s, got %v", client.pingTimeout)
		}
		if cap(client.sendCh) != 1 {
			t.Errorf("expected minimum buffer of 1, got %d", cap(client.sendCh))
		}
	})

	t.Run("queues frames in order", func(t *testing.T) {
		client := NewClient("test-client", &websocket.Conn{}, 8)
		for i := 0; i < 3; i++ {
			if err := client.Send(messages.Envelope{ID: uint64(i), Name: "e", Args: "{}"}); err != nil {
				t.Fatalf("send %d: %v", i, err)
			}
		}
		for i := 0; i < 3; i++ {
			env, err := messages.Decode(<-client.sendCh)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.ID != uint64(i) {
				t.Errorf("expected id %d, got %d", i, env.ID)
			}
		}
	})

	t.Run("send after close", func(t *testing.T) {
		client := NewClient("test-client", &websocket.Conn{}, 1)
		client.Close()
		client.Close()

		err := client.Send(messages.Envelope{ID: 1, Name: "e", Args: "{}"})
		var te *messages.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected TransportError, got %v", err)
		}
		if !errors.Is(err, ErrClientClosed) {
			t.Errorf("expected ErrClientClosed, got %v", err)
		}
		select {
		case <-client.Closed():
		default:
			t.Error("expected closed channel to be closed")
		}
	})

	t.Run("close unblocks a full buffer", func(t *testing.T) {
		client := NewClient("test-client", &websocket.Conn{}, 1)
		if err := client.Send(messages.Envelope{ID: 1, Name: "e", Args: "{}"}); err != nil {
			t.Fatalf("send: %v", err)
		}
		errc := make(chan error, 1)
		go func() { errc <- client.Send(messages.Envelope{ID: 2, Name: "e", Args: "{}"}) }()
		time.Sleep(10 * time.Millisecond)
		client.Close()
		select {
		case err := <-errc:
			if !errors.Is(err, ErrClientClosed) {
				t.Errorf("expected ErrClientClosed, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("send stayed blocked after close")
		}
	})
}

func TestConnSweep(t *testing.T) {
	finished := func(id uint64) *Task {
		task := &Task{id: id, done: make(chan struct{})}
		close(task.done)
		return task
	}
	running := &Task{id: 2, done: make(chan struct{})}

	c := &conn{inflight: []*Task{finished(1), running, finished(3)}}
	c.sweep()

	if len(c.inflight) != 1 {
		t.Fatalf("expected 1 in-flight task, got %d", len(c.inflight))
	}
	if c.inflight[0] != running {
		t.Errorf("expected the running task to be kept, got id %d", c.inflight[0].ID())
	}

	close(running.done)
	c.sweep()
	if len(c.inflight) != 0 {
		t.Errorf("expected no in-flight tasks, got %d", len(c.inflight))
	}
}

func TestIsNormalDisconnect(t *testing.T) {
	normalErrors := []error{
		&websocket.CloseError{Code: websocket.CloseNormalClosure},
		&websocket.CloseError{Code: websocket.CloseGoingAway},
		fmt.Errorf("read: %w", errors.New("use of closed network connection")),
		fmt.Errorf("connection reset by peer"),
		fmt.Errorf("unexpected EOF"),
	}
	for _, err := range normalErrors {
		if !isNormalDisconnect(err) {
			t.Errorf("expected error to be normal disconnect: %v", err)
		}
	}

	if isNormalDisconnect(fmt.Errorf("unexpected error")) {
		t.Error("expected error not to be normal disconnect")
	}
	if isNormalDisconnect(nil) {
		t.Error("expected nil error not to be normal disconnect")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate([]byte("short"), 10); got != "short" {
		t.Errorf("expected 'short', got %q", got)
	}
	if got := truncate([]byte("a long frame"), 6); got != "a long..." {
		t.Errorf("expected 'a long...', got %q", got)
	}
}
