package memory

import (
	"context"
	"fmt"
	"groupchat-server/core"
	"sync"
)

type blob struct {
	contentType string
	data        []byte
}

type blobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

func NewBlobStore() core.BlobStore {
	return &blobStore{blobs: make(map[string]blob)}
}

func (s *blobStore) PutBlob(ctx context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	s.blobs[key] = blob{contentType: contentType, data: append([]byte(nil), data...)}
	s.mu.Unlock()
	return nil
}

func (s *blobStore) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	s.mu.RLock()
	b, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
	}
	return b.data, b.contentType, nil
}
