package hostproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File keeps the host setting in a JSON document that a browser launcher
// or another local agent reads. A missing file means direct mode.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("host proxy file path is empty")
	}
	return &File{path: path}, nil
}

func (f *File) Get(_ context.Context) (Value, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Direct(), nil
		}
		return Value{}, fmt.Errorf("failed to read host proxy file: %w", err)
	}
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, fmt.Errorf("failed to parse host proxy file: %w", err)
	}
	return v, nil
}

func (f *File) Set(_ context.Context, v Value) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create host proxy directory: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write host proxy file: %w", err)
	}
	return os.Rename(tmp, f.path)
}
