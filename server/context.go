package server

import (
	"context"
	"fmt"
	"time"

	"github.com/sethfduke/chessdesk/auth"
	"github.com/sethfduke/chessdesk/config"
	"github.com/sethfduke/chessdesk/dispatch"
	"github.com/sethfduke/chessdesk/logging"
	"github.com/sethfduke/chessdesk/messages"
	"github.com/sethfduke/chessdesk/storage"
)

// ctxKey is a custom type for context keys to avoid collisions.
type ctxKey string

const (
	// ctxKeyConnID is the context key used to store connection IDs.
	ctxKeyConnID ctxKey = "connID"
	// ctxKeyClaims is the context key used to store session claims.
	ctxKeyClaims ctxKey = "claims"
)

// WithConnectionID returns a child context that carries the connection id.
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyConnID, id)
}

// ConnectionIDFrom extracts the connection id from context.
func ConnectionIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyConnID).(string)
	return v, ok
}

// WithClaims returns a child context that carries the session claims.
func WithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeyClaims, c)
}

// ClaimsFrom extracts the session claims from context.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	v, ok := ctx.Value(ctxKeyClaims).(*auth.Claims)
	return v, ok
}

// request is the concrete dispatch.Request built for every inbound
// envelope. It wraps the connection context and sends through the
// connection's client.
type request struct {
	base    context.Context
	id      uint64
	name    string
	client  *Client
	log     logging.Logger
	paths   config.Paths
	storage storage.Opener
}

var _ dispatch.Request = (*request)(nil)

// Deadline returns the deadline from the underlying base context.
func (r *request) Deadline() (time.Time, bool) { return r.base.Deadline() }

// Done returns the done channel from the underlying base context.
func (r *request) Done() <-chan struct{} { return r.base.Done() }

// Err returns any error from the underlying base context.
func (r *request) Err() error { return r.base.Err() }

// Value returns a value from the underlying base context for the given key.
func (r *request) Value(key any) any { return r.base.Value(key) }

func (r *request) ID() uint64          { return r.id }
func (r *request) Name() string        { return r.name }
func (r *request) Log() logging.Logger { return r.log }
func (r *request) Paths() config.Paths { return r.paths }

// Send marshals payload and queues it as an event tagged with the request id.
func (r *request) Send(event string, payload any) error {
	env, err := messages.NewEnvelope(r.id, event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	return r.client.Send(env)
}

// Progress sends a progress event for the request's command.
func (r *request) Progress(activity string, progress float64) error {
	r.log.Debug("progress", "activity", activity, "progress", progress)
	return r.Send(messages.ProgressName(r.name), messages.Progress{Activity: activity, Progress: progress})
}

// OpenStorage opens a connection to the database named by the path settings.
func (r *request) OpenStorage() (*storage.Conn, error) {
	return r.storage.Open(r.paths.DatabasePath)
}
