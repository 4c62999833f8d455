package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalArtifactStore resolves keys under a directory. Used in development
// when no bucket is configured.
type LocalArtifactStore struct {
	basePath string
}

func NewLocalArtifactStore(basePath string) (*LocalArtifactStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalArtifactStore{basePath: basePath}, nil
}

func (s *LocalArtifactStore) Exists(_ context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(key)))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat artifact: %w", err)
	}
	return !info.IsDir(), nil
}
