package messages

import (
	"context"
	"errors"
	"fmt"
)

// ProtocolErrorKind classifies a ProtocolError.
type ProtocolErrorKind int

const (
	// MalformedEnvelope means the frame could not be parsed as an envelope.
	MalformedEnvelope ProtocolErrorKind = iota + 1
	// UnknownCommand means no handler is registered for the envelope name.
	UnknownCommand
	// DecodeFailed means the args did not decode into the handler's type.
	DecodeFailed
)

func (k ProtocolErrorKind) String() string {
	switch k {
	case MalformedEnvelope:
		return "malformed_envelope"
	case UnknownCommand:
		return "unknown_command"
	case DecodeFailed:
		return "decode_failed"
	default:
		return "protocol"
	}
}

// ProtocolError reports a frame the server could not route to a handler.
// It is always recoverable: the connection stays open.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Name string
	Err  error
}

func (e *ProtocolError) Error() string {
	switch e.Kind {
	case MalformedEnvelope:
		return fmt.Sprintf("malformed envelope: %v", e.Err)
	case UnknownCommand:
		return fmt.Sprintf("unknown command %q", e.Name)
	case DecodeFailed:
		return fmt.Sprintf("decode %s: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TaskError reports a handler failure for one request.
type TaskError struct {
	Name string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("%s: %v", e.Name, e.Err) }

func (e *TaskError) Unwrap() error { return e.Err }

// TransportError reports a send or receive failure on the connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// ConfigurationError reports a startup misconfiguration.
type ConfigurationError struct {
	Name   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Name == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Name, e.Reason)
}

const (
	CodeBadRequest = 400
	CodeNotFound   = 404
	CodeCancelled  = 499
	CodeInternal   = 500
)

// ErrorPayload converts err into the payload of a failure frame for command.
func ErrorPayload(command string, err error) Error {
	out := Error{Code: CodeInternal, Kind: "task", Command: command, Msg: err.Error()}

	var pe *ProtocolError
	var te *TransportError
	switch {
	case errors.As(err, &pe):
		out.Kind = pe.Kind.String()
		out.Code = CodeBadRequest
		if pe.Kind == UnknownCommand {
			out.Code = CodeNotFound
		}
	case errors.Is(err, context.Canceled):
		out.Kind = "cancelled"
		out.Code = CodeCancelled
	case errors.As(err, &te):
		out.Kind = "transport"
	}
	return out
}
