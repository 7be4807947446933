package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pcmlabs/alertwatch/internal/alert"
)

// FileStore keeps the snapshot as a single JSON document, in the spirit
// of the classic last_problems.json sidecar file.
type FileStore struct {
	path string
}

// NewFile returns a store backed by the JSON document at path. The file
// does not have to exist yet.
func NewFile(path string) *FileStore {
	return &FileStore{path: path}
}

// fileRecord pairs a record with its rendered display line, mirroring
// what the sqlite store persists. The line is recomputed on load.
type fileRecord struct {
	alert.Record
	Display string `json:"display"`
}

// Load reads the document. An absent file is a normal first run and a
// malformed one is discarded with a warning; both yield an empty
// mapping, never an error.
func (s *FileStore) Load(_ context.Context) (map[string]alert.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("snapshot unreadable, starting from empty", "path", s.path, "err", err)
		}
		return map[string]alert.Record{}, nil
	}

	var doc map[string]fileRecord
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("snapshot malformed, starting from empty", "path", s.path, "err", err)
		return map[string]alert.Record{}, nil
	}
	records := make(map[string]alert.Record, len(doc))
	for id, fr := range doc {
		records[id] = fr.Record
	}
	return records, nil
}

// Save writes the document atomically via a temp file and rename.
func (s *FileStore) Save(_ context.Context, records map[string]alert.Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	doc := make(map[string]fileRecord, len(records))
	for id, rec := range records {
		doc[id] = fileRecord{Record: rec, Display: rec.Render()}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
