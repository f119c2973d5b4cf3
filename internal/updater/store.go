package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists State as pretty-printed JSON.
//
// Save writes to a temp file in the target directory and renames it into
// place, so a crash mid-write can never leave a partially-written file
// readable at path: rename is atomic on the same filesystem, and a reader
// either sees the old complete file or the new complete file, never a
// truncated one. This resolves the state-file write atomicity question left
// open in the reference source (which used create+write_all+flush, not
// crash-atomic on all filesystems).
type FileStore struct {
	path string
}

// NewFileStore returns a Store persisting to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads and parses the state file, returning (nil, nil) if it does not exist.
func (f *FileStore) Load(_ context.Context) (*State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse updater state: %w", err)
	}
	return &state, nil
}

// Save atomically writes state to the store's path via write-temp + rename.
func (f *FileStore) Save(_ context.Context, state *State) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".updater-state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, f.path)
}

// MemoryStore is an in-process Store; the module's tests use it.
type MemoryStore struct {
	state *State
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	if m.state == nil {
		return nil, nil
	}
	return m.state.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, state *State) error {
	m.state = state.Clone()
	return nil
}
