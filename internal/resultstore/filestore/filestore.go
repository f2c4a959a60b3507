// Package filestore archives runs as one JSON document per run ID under a
// directory.
package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type FileStore struct {
	Dir string
}

func New(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (f *FileStore) path(id string) string {
	return filepath.Join(f.Dir, id+".json")
}

func (f *FileStore) Save(ctx context.Context, id string, run any) error {
	if run == nil {
		return fmt.Errorf("Save: input parameter must not be nil")
	}
	bytes, err := json.MarshalIndent(run, "", "    ")
	if err != nil {
		return fmt.Errorf("Save: failed to marshal run %s: %w", id, err)
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("Save: failed to create %s: %w", f.Dir, err)
	}

	// Write to temp file first, then atomic rename
	tmpPath := f.path(id) + ".tmp"
	if err := os.WriteFile(tmpPath, bytes, 0o600); err != nil {
		return fmt.Errorf("Save: failed to write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.path(id)); err != nil {
		return fmt.Errorf("Save: failed to replace %s: %w", f.path(id), err)
	}
	return nil
}

func (f *FileStore) Load(ctx context.Context, id string, out any) error {
	if out == nil {
		return fmt.Errorf("Load: output parameter must not be nil")
	}
	bytes, err := os.ReadFile(f.path(id))
	if err != nil {
		return fmt.Errorf("Load: failed to read %s: %w", f.path(id), err)
	}
	if err := json.Unmarshal(bytes, out); err != nil {
		return fmt.Errorf("Load: failed to parse %s: %w", f.path(id), err)
	}
	return nil
}
