package messages

import (
	"encoding/json"
	"errors"
)

const (
	// ErrorName is the frame name used for terminal failure frames.
	ErrorName = "error"
	// JoinedName is the frame name of the greeting sent when a connection opens.
	JoinedName = "joined"

	progressSuffix = "updateProgress"
	separator      = "::"
)

// Envelope is the uniform frame exchanged over the connection in both
// directions. Args holds a JSON document serialized to a string; it is
// decoded only by the handler registered for Name.
type Envelope struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
	Args string `json:"args"`
}

// NewEnvelope builds an outbound envelope, encoding payload as the JSON
// string carried in Args.
func NewEnvelope(id uint64, name string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{ID: id, Name: name, Args: string(b)}, nil
}

// Encode serializes the envelope as a text frame.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses an inbound frame. Unknown fields are ignored. Malformed
// JSON and frames without a name are reported as a ProtocolError of kind
// MalformedEnvelope; the returned envelope carries whatever id could be
// recovered so the failure can still be correlated.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return recoverID(raw), &ProtocolError{Kind: MalformedEnvelope, Err: err}
	}
	if env.Name == "" {
		return env, &ProtocolError{Kind: MalformedEnvelope, Err: errors.New("missing name")}
	}
	return env, nil
}

// recoverID returns an envelope carrying only the id of raw, when raw is a
// JSON object whose id field is well formed.
func recoverID(raw []byte) Envelope {
	var head struct {
		ID uint64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Envelope{}
	}
	return Envelope{ID: head.ID}
}

// EventName returns the name of an event emitted on behalf of command.
func EventName(command, event string) string {
	return command + separator + event
}

// ProgressName returns the name of the progress event of command.
func ProgressName(command string) string {
	return EventName(command, progressSuffix)
}
