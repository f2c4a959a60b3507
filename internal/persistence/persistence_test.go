package persistence_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsbench/mlsbench/internal/persistence"
)

const sampleJSON = "{\n    \"key\": \"value\"\n}"

type MockSerializer struct {
	Bytes []byte
	Err   error
}

func (s MockSerializer) Marshal(data any) ([]byte, error) {
	return s.Bytes, s.Err
}

type MockWriter struct {
	Data map[string][]byte
	Err  error
}

func (w *MockWriter) Write(filename string, data []byte) error {
	if w.Data == nil {
		w.Data = make(map[string][]byte)
	}
	w.Data[filename] = data
	return w.Err
}

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		data        any
		serializer  persistence.Serializer
		writer      persistence.Writer
		expectedErr bool
	}{
		{
			name:       "valid input",
			filename:   "output.json",
			data:       map[string]string{"key": "value"},
			serializer: MockSerializer{Bytes: []byte(sampleJSON)},
			writer:     &MockWriter{},
		},
		{
			name:        "empty filename",
			filename:    "",
			data:        map[string]string{"key": "value"},
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "serializer error",
			filename:    "output.json",
			data:        map[string]string{"key": "value"},
			serializer:  MockSerializer{Err: fmt.Errorf("serialization failed")},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "writer error",
			filename:    "output.json",
			data:        map[string]string{"key": "value"},
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{Err: fmt.Errorf("write failed")},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := persistence.WriteJSON(tt.data, tt.filename, tt.serializer, tt.writer)
			if tt.expectedErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				if writer, ok := tt.writer.(*MockWriter); ok {
					assert.Equal(t, sampleJSON, string(writer.Data[tt.filename]))
				}
			}
		})
	}
}

func TestJSONSerializerIndents(t *testing.T) {
	data := map[string]string{"key": "value"}
	writer := &MockWriter{}
	err := persistence.WriteJSON(data, "output.json",
		persistence.JSONSerializer{Indent: "    "}, writer)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(writer.Data["output.json"]))
}

func TestFileWriterCreatesParentDirs(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "nested", "deep", "result.json")
	err := persistence.FileWriter{Overwrite: true}.Write(filename, []byte("{}"))
	require.NoError(t, err)
	got, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestFileWriterRefusesOverwrite(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "result.json")
	require.NoError(t, os.WriteFile(filename, []byte("old"), 0o644))

	err := persistence.FileWriter{}.Write(filename, []byte("new"))
	assert.ErrorIs(t, err, os.ErrExist)

	err = persistence.FileWriter{Overwrite: true}.Write(filename, []byte("new"))
	require.NoError(t, err)
	got, _ := os.ReadFile(filename)
	assert.Equal(t, "new", string(got))
}

func TestSaveJSONFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "group_size_64.json")
	require.NoError(t, persistence.SaveJSONFile(map[string]string{"key": "value"}, filename))
	got, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(got))
}
