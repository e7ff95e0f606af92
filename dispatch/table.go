package dispatch

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sethfduke/chessdesk/messages"
)

// Table maps command names to handlers. It is filled at startup and frozen
// before the first connection is served; lookups on a frozen table take no
// lock.
type Table struct {
	mu      sync.Mutex
	frozen  atomic.Bool
	entries map[string]Handler
}

// NewTable builds a table holding specs.
func NewTable(specs ...CommandSpec) (*Table, error) {
	t := &Table{entries: make(map[string]Handler)}
	if err := t.Register(specs...); err != nil {
		return nil, err
	}
	return t, nil
}

// Register adds specs to the table. Registering a name twice, registering
// after Freeze, or registering an invalid spec is a ConfigurationError and
// leaves the table unchanged.
func (t *Table) Register(specs ...CommandSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen.Load() {
		return &messages.ConfigurationError{Reason: "command table is frozen"}
	}
	if t.entries == nil {
		t.entries = make(map[string]Handler)
	}

	seen := make(map[string]bool, len(specs))
	for _, sp := range specs {
		switch {
		case sp.Name == "":
			return &messages.ConfigurationError{Reason: "command name is empty"}
		case sp.Handler == nil:
			return &messages.ConfigurationError{Name: sp.Name, Reason: "handler is nil"}
		case sp.err != nil:
			return &messages.ConfigurationError{Name: sp.Name, Reason: sp.err.Error()}
		case seen[sp.Name]:
			return &messages.ConfigurationError{Name: sp.Name, Reason: "duplicate registration"}
		}
		if _, dup := t.entries[sp.Name]; dup {
			return &messages.ConfigurationError{Name: sp.Name, Reason: "duplicate registration"}
		}
		seen[sp.Name] = true
	}
	for _, sp := range specs {
		t.entries[sp.Name] = sp.Handler
	}
	return nil
}

// Freeze makes the table read-only.
func (t *Table) Freeze() {
	t.mu.Lock()
	t.frozen.Store(true)
	t.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (t *Table) Frozen() bool { return t.frozen.Load() }

// Lookup returns the handler registered under name.
func (t *Table) Lookup(name string) (Handler, bool) {
	if !t.frozen.Load() {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	h, ok := t.entries[name]
	return h, ok
}

// Names returns the registered command names in sorted order.
func (t *Table) Names() []string {
	if !t.frozen.Load() {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch routes args to the handler registered under req.Name(). An
// unknown name is a ProtocolError of kind UnknownCommand and invokes
// nothing.
func (t *Table) Dispatch(req Request, args string) error {
	h, ok := t.Lookup(req.Name())
	if !ok {
		return &messages.ProtocolError{Kind: messages.UnknownCommand, Name: req.Name()}
	}
	req.Log().Debug("marshalling arguments")
	return h.Dispatch(req, args)
}
