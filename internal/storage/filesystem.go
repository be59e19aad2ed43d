package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemStore writes objects under a base directory. Used for local runs.
type FilesystemStore struct {
	baseDir   string
	publicURL string
}

func NewFilesystemStore(baseDir, publicURL string) (*FilesystemStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FilesystemStore{baseDir: baseDir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (fs *FilesystemStore) path(key string) (string, error) {
	if !validKey(key) {
		return "", ErrInvalidKey
	}
	path := filepath.Join(fs.baseDir, filepath.FromSlash(key))
	base := filepath.Clean(fs.baseDir)
	if !strings.HasPrefix(filepath.Clean(path), base+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return path, nil
}

func (fs *FilesystemStore) Upload(_ context.Context, key, _ string, data []byte) (*Object, error) {
	path, err := fs.path(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	obj := &Object{Path: key}
	if fs.publicURL != "" {
		obj.URL = fs.publicURL + "/" + key
	}
	return obj, nil
}
