package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sethfduke/chessdesk/messages"

	"github.com/xeipuuv/gojsonschema"
)

// Handler decodes a raw argument string and invokes the command it was
// built for.
type Handler interface {
	Dispatch(req Request, args string) error
}

// CommandSpec describes one command registration.
type CommandSpec struct {
	Name    string
	Handler Handler
	err     error
}

// CommandOption is a function type used to configure a command registration.
type CommandOption func(*commandConfig)

type commandConfig struct {
	schema    *gojsonschema.Schema
	schemaErr error
}

// WithSchema validates the argument document against a JSON schema before
// it is decoded. Documents that violate the schema fail to decode.
func WithSchema(schema string) CommandOption {
	return func(c *commandConfig) {
		c.schema, c.schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	}
}

// typed binds a handler to its argument type T.
type typed[T any] struct {
	name   string
	schema *gojsonschema.Schema
	fn     func(Request, T) error
}

// Command registers fn under name. The arguments of each request are
// decoded from JSON into a fresh T before fn is called.
func Command[T any](name string, fn func(Request, T) error, opts ...CommandOption) CommandSpec {
	var cfg commandConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	spec := CommandSpec{
		Name:    name,
		Handler: &typed[T]{name: name, schema: cfg.schema, fn: fn},
	}
	switch {
	case fn == nil:
		spec.err = fmt.Errorf("handler is nil")
	case cfg.schemaErr != nil:
		spec.err = fmt.Errorf("invalid schema: %w", cfg.schemaErr)
	}
	return spec
}

// Dispatch decodes args into T and invokes the handler, returning its
// error unchanged.
func (h *typed[T]) Dispatch(req Request, args string) error {
	if h.schema != nil {
		if err := validate(h.schema, args); err != nil {
			return &messages.ProtocolError{Kind: messages.DecodeFailed, Name: h.name, Err: err}
		}
	}

	var v T
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return &messages.ProtocolError{Kind: messages.DecodeFailed, Name: h.name, Err: err}
	}
	req.Log().Debug("invoking handler")
	return h.fn(req, v)
}

func validate(schema *gojsonschema.Schema, args string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(args))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("schema violation: %s", strings.Join(details, "; "))
}
