// Package dispatch routes named commands to typed handlers.
//
// A command is registered once, at startup, with the argument type its
// handler expects:
//
//	table, err := dispatch.NewTable(
//		dispatch.Command("import::importFile", importFile),
//	)
//
// where importFile has the signature func(dispatch.Request, File) error.
// Dispatch decodes the JSON argument string of an envelope into File and
// invokes the handler on the calling goroutine; the server calls it from a
// worker pool goroutine.
package dispatch

import (
	"context"

	"github.com/sethfduke/chessdesk/config"
	"github.com/sethfduke/chessdesk/logging"
	"github.com/sethfduke/chessdesk/storage"
)

// Request is the per-invocation context handed to a handler. It lives
// exactly as long as the handler call. The embedded context is cancelled
// when the owning connection closes.
type Request interface {
	context.Context

	// ID is the correlation id chosen by the client.
	ID() uint64
	// Name is the command name the request was routed by.
	Name() string

	// Send emits an out-of-band event carrying payload, tagged with the
	// request id. Events from one request reach the client in the order
	// they were sent.
	Send(event string, payload any) error
	// Progress sends the "<name>::updateProgress" event.
	Progress(activity string, progress float64) error

	// Log returns a logger scoped to the request id and name.
	Log() logging.Logger
	// Paths returns the resolved path settings.
	Paths() config.Paths
	// OpenStorage opens a fresh connection to the store. The handler owns
	// the connection and must close it.
	OpenStorage() (*storage.Conn, error)
}
