package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/smithy-go"
)

func TestCleanKey(t *testing.T) {
	cases := map[string]bool{
		"deliveries/abc.zip": true,
		"a/./b.zip":          true,
		"":                   false,
		"/etc/passwd":        false,
		"../secret":          false,
		"a/../../b":          false,
	}
	for key, ok := range cases {
		_, err := CleanKey(key)
		if (err == nil) != ok {
			t.Fatalf("key %q: expected ok=%v, got err=%v", key, ok, err)
		}
	}
}

func TestLocalArtifactStoreExists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalArtifactStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "tx"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tx", "build.zip"), []byte("zip"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ok, err := store.Exists(context.Background(), "tx/build.zip")
	if err != nil || !ok {
		t.Fatalf("expected artifact to exist, ok=%v err=%v", ok, err)
	}
	ok, err = store.Exists(context.Background(), "tx/missing.zip")
	if err != nil || ok {
		t.Fatalf("expected missing artifact, ok=%v err=%v", ok, err)
	}
	if _, err := store.Exists(context.Background(), "../escape"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestIsNotFoundMatchesAPIErrorCode(t *testing.T) {
	if !isNotFound(&smithy.GenericAPIError{Code: "NotFound"}) {
		t.Fatal("expected NotFound api error to match")
	}
	if isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}) {
		t.Fatal("AccessDenied must not be treated as missing")
	}
}
