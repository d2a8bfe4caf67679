package filesystem

import (
	"context"
	"fmt"
	"groupchat-server/core"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

type blobStore struct {
	basePath string
}

// NewBlobStore stores attachments as files under basePath, with the content
// type kept in a ".type" sidecar file.
func NewBlobStore(basePath string) (core.BlobStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &blobStore{basePath: basePath}, nil
}

func (s *blobStore) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid blob key %q: %w", key, core.ErrForbidden)
	}
	return filepath.Join(s.basePath, key), nil
}

func (s *blobStore) PutBlob(ctx context.Context, key, contentType string, data []byte) error {
	filePath, err := s.path(key)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{
		"key":       key,
		"file_path": filePath,
	})

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		log.WithError(err).Error("Failed to write blob")
		return err
	}
	if err := os.WriteFile(filePath+".type", []byte(contentType), 0644); err != nil {
		log.WithError(err).Error("Failed to write blob content type")
		return err
	}
	log.Debug("Blob stored")
	return nil
}

func (s *blobStore) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	filePath, err := s.path(key)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return nil, "", err
	}
	contentType, err := os.ReadFile(filePath + ".type")
	if err != nil && !os.IsNotExist(err) {
		return nil, "", err
	}
	return data, string(contentType), nil
}
