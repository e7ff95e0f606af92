package tasks

import (
	"errors"
	"fmt"
	"time"

	"github.com/sethfduke/chessdesk/dispatch"
	"github.com/sethfduke/chessdesk/messages"

	"github.com/Masterminds/semver/v3"
)

const initializeSchema = `{
	"type": "object",
	"properties": {
		"client_version": {"type": "string", "minLength": 1}
	},
	"required": ["client_version"]
}`

// ErrVersionMismatch is returned by Initialize when the client is built
// for another backend release.
var ErrVersionMismatch = errors.New("client and server versions are incompatible")

// InitializeArgs are the arguments of app::initialize.
type InitializeArgs struct {
	ClientVersion string `json:"client_version"`
}

// VersionMismatch is the payload of app::initialize::versionMismatch.
type VersionMismatch struct {
	ServerVersion string `json:"server_version"`
}

// Metadata keys written by Initialize.
const (
	MetaServerVersion = "server_version"
	MetaInitializedAt = "initialized_at"
)

// Initialize checks that the client speaks to a compatible backend, then
// brings the store up to date. A client is compatible when it shares the
// server's major and minor version.
func Initialize(req dispatch.Request, args InitializeArgs) error {
	ok, err := compatible(args.ClientVersion, Version)
	if err != nil {
		return err
	}
	if !ok {
		req.Log().Warn("version mismatch", "client", args.ClientVersion, "server", Version)
		if err := req.Send(messages.EventName(req.Name(), "versionMismatch"), VersionMismatch{ServerVersion: Version}); err != nil {
			return err
		}
		return fmt.Errorf("client %s, server %s: %w", args.ClientVersion, Version, ErrVersionMismatch)
	}

	if err := req.Progress("Running database migrations", 0); err != nil {
		return err
	}
	conn, err := req.OpenStorage()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Migrate(req); err != nil {
		return err
	}
	if err := req.Progress("Recording server version", 50); err != nil {
		return err
	}
	if err := conn.SetMeta(req, MetaServerVersion, Version); err != nil {
		return err
	}
	if err := conn.SetMeta(req, MetaInitializedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return req.Progress("Done", 100)
}

// compatible reports whether client satisfies ~major.minor of server.
func compatible(client, server string) (bool, error) {
	cv, err := semver.NewVersion(client)
	if err != nil {
		return false, fmt.Errorf("client version %q: %w", client, err)
	}
	sv, err := semver.NewVersion(server)
	if err != nil {
		return false, fmt.Errorf("server version %q: %w", server, err)
	}
	c, err := semver.NewConstraint(fmt.Sprintf("~%d.%d", sv.Major(), sv.Minor()))
	if err != nil {
		return false, err
	}
	return c.Check(cv), nil
}
