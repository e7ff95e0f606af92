package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sethfduke/chessdesk/auth"
	"github.com/sethfduke/chessdesk/config"
	"github.com/sethfduke/chessdesk/logging"
	"github.com/sethfduke/chessdesk/storage"
)

// Option is a function type used to configure Server instances.
type Option func(*Server)

// WithCheckOrigin sets a function to check the origin of WebSocket upgrade requests.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) {
		s.Upgrader.CheckOrigin = fn
	}
}

// WithCompression enables or disables WebSocket compression.
func WithCompression(enabled bool) Option {
	return func(s *Server) {
		s.Upgrader.EnableCompression = enabled
	}
}

// Host sets the host address for the server to bind to.
func Host(host string) Option {
	return func(s *Server) {
		s.Host = host
	}
}

// WithPort sets the port number for the server to listen on.
func WithPort(port int) Option {
	return func(s *Server) {
		s.Port = port
	}
}

// WithVersion sets the server version announced in the joined message.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithStorage sets the opener handlers use to reach the store.
func WithStorage(o storage.Opener) Option {
	return func(s *Server) {
		s.storage = o
	}
}

// WithPaths sets the path settings handed to every request.
func WithPaths(p config.Paths) Option {
	return func(s *Server) {
		s.paths = p
	}
}

// WithWorkers bounds the number of handlers running at once. Zero or less
// means runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(s *Server) {
		s.workers = n
	}
}

// WithSendBuffer sets the number of outbound frames queued per connection
// before senders block.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		s.sendBuffer = n
	}
}

// WithCloseGrace sets how long a closing connection waits for its
// in-flight requests before detaching them.
func WithCloseGrace(d time.Duration) Option {
	return func(s *Server) {
		s.closeGrace = d
	}
}

// WithHS256Token enables session tokens signed with HS256 using secret.
// If require is true, connections without a valid token are refused.
func WithHS256Token(secret []byte, require bool) Option {
	return func(s *Server) {
		s.tokenValidator = &auth.HS256{Secret: secret}
		s.requireToken = require
	}
}

// WithTokenValidator enables session tokens checked by v.
// If require is true, connections without a valid token are refused.
func WithTokenValidator(v auth.TokenValidator, require bool) Option {
	return func(s *Server) {
		s.tokenValidator = v
		s.requireToken = require
	}
}

// WithLogger sets a custom logger implementation for the server.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) { s.Log = l }
}

// WithSlog sets an slog.Logger instance as the server's logger.
func WithSlog(l *slog.Logger) Option {
	return func(s *Server) { s.Log = logging.New(l) }
}

// WithDefaultPing enables keepalive pings every 30 seconds with a 5 second timeout.
func WithDefaultPing() Option {
	return WithPing(30*time.Second, 5*time.Second)
}

// WithPing enables keepalive pings with the specified interval and timeout.
func WithPing(interval, timeout time.Duration) Option {
	return func(s *Server) {
		s.pingInterval = interval
		s.pingTimeout = timeout
	}
}

// WithHealthEndpoint enables a health check endpoint at the specified path.
func WithHealthEndpoint(path string) Option {
	return func(s *Server) {
		s.healthEndpoint = path
	}
}

// WithMaxConnections sets the maximum number of concurrent WebSocket connections.
// When the limit is reached, new connections are rejected with 503 Service Unavailable.
func WithMaxConnections(max int) Option {
	return func(s *Server) {
		s.maxConnections = max
	}
}

// WithReadTimeout sets the read timeout for the HTTP server.
func WithReadTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = timeout
	}
}

// WithWriteTimeout sets the write timeout for the HTTP server and for
// every frame written to a connection.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.writeTimeout = timeout
	}
}

// WithIdleTimeout sets the idle timeout for the HTTP server.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = timeout
	}
}

// FromConfig translates loaded configuration into options.
func FromConfig(c *config.Config, p config.Paths) []Option {
	opts := []Option{
		Host(c.Host),
		WithPort(c.Port),
		WithPaths(p),
		WithWorkers(c.Workers),
		WithSendBuffer(c.SendBuffer),
		WithCloseGrace(c.CloseGrace),
		WithHealthEndpoint(c.HealthEndpoint),
	}
	if c.PingInterval > 0 {
		opts = append(opts, WithPing(c.PingInterval, c.PingTimeout))
	}
	if c.TokenSecret != "" {
		opts = append(opts, WithHS256Token([]byte(c.TokenSecret), c.RequireToken))
	}
	return opts
}
