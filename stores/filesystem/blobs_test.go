package filesystem

import (
	"context"
	"errors"
	"groupchat-server/core"
	"os"
	"path/filepath"
	"testing"
)

func TestNewBlobStore_CreatesDirectory(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "nested", "path", "test")
	if _, err := NewBlobStore(tempDir); err != nil {
		t.Fatalf("NewBlobStore() failed: %v", err)
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("NewBlobStore() did not create nested directory structure")
	}
}

func TestPutGetBlob(t *testing.T) {
	tempDir := t.TempDir()
	s, err := NewBlobStore(tempDir)
	if err != nil {
		t.Fatalf("NewBlobStore() failed: %v", err)
	}
	ctx := context.Background()

	if err := s.PutBlob(ctx, "01HZX", "image/png", []byte{1, 2, 3}); err != nil {
		t.Fatalf("PutBlob() failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "01HZX")); os.IsNotExist(err) {
		t.Error("PutBlob() did not create file on disk")
	}

	data, contentType, err := s.GetBlob(ctx, "01HZX")
	if err != nil {
		t.Fatalf("GetBlob() failed: %v", err)
	}
	if len(data) != 3 || contentType != "image/png" {
		t.Errorf("GetBlob() = %v, %q", data, contentType)
	}
}

func TestGetBlob_NotFound(t *testing.T) {
	s, _ := NewBlobStore(t.TempDir())

	_, _, err := s.GetBlob(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBlobKeyTraversal(t *testing.T) {
	s, _ := NewBlobStore(t.TempDir())
	ctx := context.Background()

	for _, key := range []string{"../escape", "a/b", "", ".."} {
		if err := s.PutBlob(ctx, key, "text/plain", []byte("x")); err == nil {
			t.Errorf("PutBlob(%q) should fail", key)
		}
	}
}
