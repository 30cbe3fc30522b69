package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

var safeKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileStore 文件系统存储：<dir>/<namespace>/<key>.json
// 写入先落临时文件再原子重命名，读者不会看到半写入的条目。
type FileStore struct {
	dir string
}

// NewFileStore 创建文件存储并确保根目录存在
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Get 读取条目
func (s *FileStore) Get(_ context.Context, namespace Stage, key string) ([]byte, error) {
	path, err := s.path(namespace, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}
	return data, nil
}

// Set 写入条目
func (s *FileStore) Set(_ context.Context, namespace Stage, key string, value []byte) error {
	path, err := s.path(namespace, key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file store: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("file store: temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file store: rename: %w", err)
	}
	return nil
}

func (s *FileStore) path(namespace Stage, key string) (string, error) {
	if !safeKey.MatchString(string(namespace)) || !safeKey.MatchString(key) {
		return "", fmt.Errorf("file store: invalid key %q/%q", namespace, key)
	}
	return filepath.Join(s.dir, string(namespace), key+".json"), nil
}
