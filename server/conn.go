package server

import (
	"context"
	"errors"
	"time"

	"github.com/sethfduke/chessdesk/logging"
	"github.com/sethfduke/chessdesk/messages"

	"github.com/gorilla/websocket"
)

// conn is the actor owning one client connection. Its methods are called
// from the connection's read loop only, so frames are handled up to the
// point of submission strictly in arrival order. Handler bodies run on the
// server's pool and never block the read loop.
type conn struct {
	id     string
	s      *Server
	client *Client
	log    logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// inflight is only touched by the read loop.
	inflight []*Task
}

func newConn(ctx context.Context, s *Server, id string, client *Client) *conn {
	ctx, cancel := context.WithCancel(ctx)
	return &conn{
		id:     id,
		s:      s,
		client: client,
		log:    s.Log.With("conn", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// onOpen resets the bookkeeping and greets the client.
func (c *conn) onOpen() {
	c.inflight = nil
	c.log.Info("connection opened")

	env, err := messages.NewEnvelope(0, messages.JoinedName, messages.Joined{
		ConnectionID:  c.id,
		ServerVersion: c.s.version,
	})
	if err == nil {
		err = c.client.Send(env)
	}
	if err != nil {
		c.log.Error("failed to send joined message", "err", err)
	}
}

// onMessage handles one inbound frame.
func (c *conn) onMessage(mt int, data []byte) {
	c.sweep()

	if mt != websocket.TextMessage {
		c.log.Warn("ignoring non-text frame", "type", mt, "bytes", len(data))
		return
	}

	env, err := messages.Decode(data)
	if err != nil {
		c.log.Warn("bad envelope", "err", err, "raw", truncate(data, 256))
		c.replyNow(env.ID, env.Name, err)
		return
	}

	log := c.log.With("id", env.ID, "name", env.Name)
	if _, ok := c.s.table.Lookup(env.Name); !ok {
		err := &messages.ProtocolError{Kind: messages.UnknownCommand, Name: env.Name}
		log.Warn("dispatch error", "err", err)
		c.replyNow(env.ID, env.Name, err)
		return
	}

	req := &request{
		base:    c.ctx,
		id:      env.ID,
		name:    env.Name,
		client:  c.client,
		log:     log,
		paths:   c.s.paths,
		storage: c.s.storage,
	}
	log.Debug("submitting request")
	task := c.s.pool.Submit(c.ctx, env.ID, env.Name, func() error {
		return c.run(req, env.Args)
	})
	if errors.Is(task.Err(), ErrPoolClosed) {
		log.Warn("server shutting down, request refused")
		c.replyNow(env.ID, env.Name, task.Err())
		return
	}
	c.inflight = append(c.inflight, task)
}

// run executes on a pool goroutine: it dispatches the request and reports
// its terminal frame. Progress events sent by the handler are queued on
// the same client before the terminal frame, so they arrive first.
func (c *conn) run(req *request, args string) error {
	start := time.Now()
	err := callSafely(req.log, req.name, func() error {
		return c.s.table.Dispatch(req, args)
	})
	if err != nil {
		var pe *messages.ProtocolError
		if !errors.As(err, &pe) {
			err = &messages.TaskError{Name: req.name, Err: err}
		}
		req.log.Error("request failed", "err", err, "elapsed", time.Since(start))
	} else {
		req.log.Info("request completed", "elapsed", time.Since(start))
	}
	c.reply(req.id, req.name, err)
	return err
}

// reply sends the terminal frame for a request: the command name with a
// Done payload on success, or an error frame. It blocks while the send
// buffer is full.
func (c *conn) reply(id uint64, name string, err error) {
	env, ok := c.terminal(id, name, err)
	if !ok {
		return
	}
	if sendErr := c.client.Send(env); sendErr != nil {
		c.log.Debug("reply dropped", "id", id, "name", name, "err", sendErr)
	}
}

// replyNow is reply for the read loop. When the send buffer is full the
// frame is handed to a goroutine so the read loop keeps receiving.
func (c *conn) replyNow(id uint64, name string, err error) {
	env, ok := c.terminal(id, name, err)
	if !ok {
		return
	}
	switch sendErr := c.client.TrySend(env); {
	case sendErr == nil:
	case errors.Is(sendErr, ErrSendBufferFull):
		go func() {
			if sendErr := c.client.Send(env); sendErr != nil {
				c.log.Debug("reply dropped", "id", id, "name", name, "err", sendErr)
			}
		}()
	default:
		c.log.Debug("reply dropped", "id", id, "name", name, "err", sendErr)
	}
}

func (c *conn) terminal(id uint64, name string, err error) (messages.Envelope, bool) {
	var env messages.Envelope
	var encErr error
	if err == nil {
		env, encErr = messages.NewEnvelope(id, name, messages.Done{OK: true})
	} else {
		env, encErr = messages.NewEnvelope(id, messages.ErrorName, messages.ErrorPayload(name, err))
	}
	if encErr != nil {
		c.log.Error("encode reply failed", "id", id, "err", encErr)
		return env, false
	}
	return env, true
}

// sweep drops completed tasks from the in-flight set.
func (c *conn) sweep() {
	kept := c.inflight[:0]
	for _, t := range c.inflight {
		if !t.Finished() {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(c.inflight); i++ {
		c.inflight[i] = nil
	}
	c.inflight = kept
}

// onClose logs the reason the peer closed the connection.
func (c *conn) onClose(code int, reason string) {
	switch code {
	case websocket.CloseNormalClosure:
		c.log.Info("client is done with the connection")
	case websocket.CloseGoingAway:
		c.log.Info("client is leaving")
	case websocket.CloseAbnormalClosure:
		c.log.Info("closing handshake failed", "reason", reason)
	default:
		c.log.Warn("client closed with error", "code", code, "reason", reason)
	}
}

// onError logs a receive error. It does not close the connection itself.
func (c *conn) onError(err error) {
	c.log.Error("connection error", "err", err)
}

// teardown signals cancellation to in-flight handlers, closes the outbound
// side, and waits up to the server's close grace for running tasks before
// detaching them.
func (c *conn) teardown() {
	c.cancel()
	c.client.Close()
	c.sweep()
	if len(c.inflight) == 0 {
		return
	}

	timer := time.NewTimer(c.s.closeGrace)
	defer timer.Stop()
	for _, t := range c.inflight {
		select {
		case <-t.Done():
		case <-timer.C:
			c.sweep()
			c.log.Warn("detaching in-flight tasks", "count", len(c.inflight), "grace", c.s.closeGrace)
			return
		}
	}
	c.inflight = nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
