// Package storage is the SQLite store behind the request handlers.
//
// Connections are opened per request: a handler asks its request for a
// connection, uses it, and closes it before returning. A *Conn is not safe
// for concurrent use.
package storage

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitemigration"
	"zombiezen.com/go/sqlite/sqlitex"
)

// appID tags chessdesk databases in the SQLite header ("CHDK").
const appID int32 = 0x4348444b

var schema = sqlitemigration.Schema{
	AppID: appID,
	Migrations: []string{
		`CREATE TABLE meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE databases (
			id            INTEGER PRIMARY KEY,
			title         TEXT NOT NULL,
			date_created  TEXT NOT NULL,
			date_modified TEXT NOT NULL
		);
		CREATE TABLE tags (
			id    INTEGER PRIMARY KEY,
			title TEXT NOT NULL UNIQUE
		);
		CREATE TABLE database_tags (
			database_id INTEGER NOT NULL REFERENCES databases(id) ON DELETE CASCADE,
			tag_id      INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			PRIMARY KEY (database_id, tag_id)
		);`,
		`CREATE TABLE imports (
			id          INTEGER PRIMARY KEY,
			path        TEXT NOT NULL,
			bytes       INTEGER NOT NULL,
			games       INTEGER NOT NULL,
			imported_at TEXT NOT NULL
		);`,
	},
}

// Migrations returns the number of schema migrations known to this build.
func Migrations() int { return len(schema.Migrations) }

// Error reports a failure to open or use the store.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Opener opens connections to the store. The server hands one to every
// request so handlers can be tested against a fake.
type Opener interface {
	Open(path string) (*Conn, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (*Conn, error)

// Open calls f(path).
func (f OpenerFunc) Open(path string) (*Conn, error) { return f(path) }

// Default opens connections with Open.
var Default Opener = OpenerFunc(Open)

// Conn is one open connection to the store.
type Conn struct {
	conn *sqlite.Conn
	path string
}

// Open opens (creating if needed) the database at path and applies the
// connection pragmas.
func Open(path string) (*Conn, error) {
	if path == "" {
		return nil, &Error{Op: "open", Err: fmt.Errorf("path is required")}
	}
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			conn.Close()
			return nil, &Error{Op: "open", Path: path, Err: fmt.Errorf("%s: %w", pragma, err)}
		}
	}
	return &Conn{conn: conn, path: path}, nil
}

// Path returns the database file of the connection.
func (c *Conn) Path() string { return c.path }

// Close closes the connection.
func (c *Conn) Close() error {
	if err := c.conn.Close(); err != nil {
		return &Error{Op: "close", Path: c.path, Err: err}
	}
	return nil
}

// interruptOn makes long statements abort when ctx is done. The returned
// function restores the previous interrupt channel.
func (c *Conn) interruptOn(ctx context.Context) func() {
	prev := c.conn.SetInterrupt(ctx.Done())
	return func() { c.conn.SetInterrupt(prev) }
}

// Migrate brings the schema up to date.
func (c *Conn) Migrate(ctx context.Context) error {
	if err := sqlitemigration.Migrate(ctx, c.conn, schema); err != nil {
		return &Error{Op: "migrate", Path: c.path, Err: err}
	}
	return nil
}

// SchemaVersion returns the number of migrations applied to the database.
func (c *Conn) SchemaVersion(ctx context.Context) (int, error) {
	defer c.interruptOn(ctx)()
	var version int
	err := sqlitex.ExecuteTransient(c.conn, "PRAGMA user_version", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, &Error{Op: "schema version", Path: c.path, Err: err}
	}
	return version, nil
}

// SetMeta stores a metadata value.
func (c *Conn) SetMeta(ctx context.Context, key, value string) error {
	defer c.interruptOn(ctx)()
	err := sqlitex.Execute(c.conn,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return &Error{Op: "set meta " + key, Path: c.path, Err: err}
	}
	return nil
}

// Meta returns a metadata value and whether it was present.
func (c *Conn) Meta(ctx context.Context, key string) (string, bool, error) {
	defer c.interruptOn(ctx)()
	var value string
	var found bool
	err := sqlitex.Execute(c.conn, `SELECT value FROM meta WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			found = true
			return nil
		},
	})
	if err != nil {
		return "", false, &Error{Op: "get meta " + key, Path: c.path, Err: err}
	}
	return value, found, nil
}

// Import records one imported file.
type Import struct {
	ID         int64
	Path       string
	Bytes      int64
	Games      int64
	ImportedAt time.Time
}

// RecordImport inserts imp and returns its row id.
func (c *Conn) RecordImport(ctx context.Context, imp Import) (int64, error) {
	defer c.interruptOn(ctx)()
	if imp.ImportedAt.IsZero() {
		imp.ImportedAt = time.Now()
	}
	err := sqlitex.Execute(c.conn,
		`INSERT INTO imports (path, bytes, games, imported_at) VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			imp.Path,
			imp.Bytes,
			imp.Games,
			imp.ImportedAt.UTC().Format(time.RFC3339Nano),
		}})
	if err != nil {
		return 0, &Error{Op: "record import", Path: c.path, Err: err}
	}
	return c.conn.LastInsertRowID(), nil
}

// Imports lists recorded imports, oldest first.
func (c *Conn) Imports(ctx context.Context) ([]Import, error) {
	defer c.interruptOn(ctx)()
	var out []Import
	err := sqlitex.Execute(c.conn,
		`SELECT id, path, bytes, games, imported_at FROM imports ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				at, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(4))
				if err != nil {
					return fmt.Errorf("imported_at: %w", err)
				}
				out = append(out, Import{
					ID:         stmt.ColumnInt64(0),
					Path:       stmt.ColumnText(1),
					Bytes:      stmt.ColumnInt64(2),
					Games:      stmt.ColumnInt64(3),
					ImportedAt: at,
				})
				return nil
			},
		})
	if err != nil {
		return nil, &Error{Op: "list imports", Path: c.path, Err: err}
	}
	return out, nil
}
