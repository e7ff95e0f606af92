// Package tasks holds the commands the backend serves. Each file defines
// one command: its argument type, its events and its handler.
package tasks

import "github.com/sethfduke/chessdesk/dispatch"

// Version is the backend version announced to clients and compared
// against the client version on initialize.
const Version = "0.3.0"

// Command names.
const (
	InitializeName  = "app::initialize"
	ImportFileName  = "import::importFile"
	IsReachableName = "material::isReachable"
)

// Commands returns the registrations of every command, ready for
// dispatch.NewTable.
func Commands() []dispatch.CommandSpec {
	return []dispatch.CommandSpec{
		dispatch.Command(InitializeName, Initialize, dispatch.WithSchema(initializeSchema)),
		dispatch.Command(ImportFileName, ImportFile, dispatch.WithSchema(importFileSchema)),
		dispatch.Command(IsReachableName, IsReachable, dispatch.WithSchema(isReachableSchema)),
	}
}
