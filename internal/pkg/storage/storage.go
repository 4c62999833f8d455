// Package storage checks delivery artifacts in object storage. The ledger
// never reads or writes file contents; it only verifies a key exists before
// recording it on a transaction.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

var ErrInvalidKey = errors.New("invalid object key")

// ArtifactStore answers whether a delivery artifact was uploaded.
type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// CleanKey rejects empty, absolute and parent-relative keys.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
