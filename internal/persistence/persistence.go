// Package persistence writes benchmark result tables to disk, with the
// serialization format and the destination pluggable for tests.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

// JSONSerializer marshals with indentation so saved result tables stay
// diffable.
type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter writes to the local filesystem, creating parent directories.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); err == nil && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

// WriteJSON persists data to filename using the provided Serializer and
// Writer.
func WriteJSON(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return os.ErrInvalid
	}
	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize data: %w", err)
	}
	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// SaveJSONFile is the common case: indented JSON straight to a file,
// overwriting an existing result.
func SaveJSONFile(data any, filename string) error {
	return WriteJSON(data, filename, JSONSerializer{Indent: "    "}, FileWriter{Overwrite: true})
}
