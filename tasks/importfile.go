package tasks

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sethfduke/chessdesk/dispatch"
	"github.com/sethfduke/chessdesk/storage"
)

const importFileSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1}
	},
	"required": ["path"]
}`

var eventTag = []byte("[Event ")

// File names the file to import.
type File struct {
	Path string `json:"path"`
}

// ImportFile reads a PGN file, reporting progress as a share of the bytes
// read, and records the import in the store. Games are counted by their
// Event tag. The import stops between lines when the connection closes.
func ImportFile(req dispatch.Request, args File) error {
	f, err := os.Open(args.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", args.Path)
	}
	size := info.Size()

	if err := req.Progress("Loading ...", 0); err != nil {
		return err
	}

	r := bufio.NewReader(f)
	var read, games int64
	last := 0
	for {
		if err := req.Err(); err != nil {
			req.Log().Info("import abandoned", "path", args.Path, "read", read)
			return err
		}
		line, err := r.ReadBytes('\n')
		read += int64(len(line))
		if bytes.HasPrefix(line, eventTag) {
			games++
		}
		if pct := percent(read, size); pct > last && pct < 100 {
			last = pct
			if err := req.Progress("Loading ...", float64(pct)); err != nil {
				return err
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}

	conn, err := req.OpenStorage()
	if err != nil {
		return err
	}
	defer conn.Close()
	id, err := conn.RecordImport(req, storage.Import{Path: args.Path, Bytes: read, Games: games})
	if err != nil {
		return err
	}
	req.Log().Info("import recorded", "import_id", id, "games", games, "bytes", read)
	return req.Progress("Done", 100)
}

func percent(n, total int64) int {
	if total <= 0 {
		return 100
	}
	return int(n * 100 / total)
}
