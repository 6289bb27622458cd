package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"urproxy/internal/shared/logger"
)

// FileStore 使用单个 JSON 文件持久化所有键值。
// Every mutation rewrites the whole file through a temp file and rename.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	data     map[string]string
}

// NewFileStore loads filePath, starting empty when it does not exist.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file store path is empty")
	}
	fs := &FileStore{filePath: filePath, data: make(map[string]string)}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	l := logger.WithComponent("Storage/File")

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Storage file not found, starting empty.")
			return nil
		}
		return fmt.Errorf("failed to read storage file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &fs.data); err != nil {
		return fmt.Errorf("failed to parse storage file: %w", err)
	}
	l.Debug().Int("keys", len(fs.data)).Msg("Loaded storage file.")
	return nil
}

func (fs *FileStore) Get(_ context.Context, key string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	v, ok := fs.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (fs *FileStore) Set(_ context.Context, key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev, existed := fs.data[key]
	fs.data[key] = value
	if err := fs.persist(); err != nil {
		if existed {
			fs.data[key] = prev
		} else {
			delete(fs.data, key)
		}
		return err
	}
	return nil
}

func (fs *FileStore) Remove(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev, existed := fs.data[key]
	if !existed {
		return nil
	}
	delete(fs.data, key)
	if err := fs.persist(); err != nil {
		fs.data[key] = prev
		return err
	}
	return nil
}

func (fs *FileStore) Close() error { return nil }

// persist must be called with fs.mu held.
func (fs *FileStore) persist() error {
	data, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fs.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage file: %w", err)
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		return fmt.Errorf("failed to replace storage file: %w", err)
	}
	return nil
}
