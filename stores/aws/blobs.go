package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"groupchat-server/core"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// objectAPI is the subset of *s3.Client the blob store needs.
type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3BlobStore struct {
	client objectAPI
	bucket string
	prefix string
}

// NewBlobStore creates an S3 backed attachment store using the default AWS
// credential chain.
func NewBlobStore(ctx context.Context, bucketName string) (core.BlobStore, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newBlobStore(s3.NewFromConfig(cfg), bucketName), nil
}

func newBlobStore(client objectAPI, bucket string) *s3BlobStore {
	return &s3BlobStore{client: client, bucket: bucket, prefix: "attachments"}
}

func (s *s3BlobStore) objectKey(key string) (string, error) {
	if key == "" || key == "." || key == ".." || path.Base(key) != key {
		return "", fmt.Errorf("invalid blob key %q: %w", key, core.ErrForbidden)
	}
	return path.Join(s.prefix, key), nil
}

func (s *s3BlobStore) PutBlob(ctx context.Context, key, contentType string, data []byte) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", key, err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": s.bucket,
		"key":    objectKey,
		"size":   len(data),
	}).Debug("Blob uploaded")
	return nil
}

func (s *s3BlobStore) GetBlob(ctx context.Context, key string) ([]byte, string, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, "", err
	}

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", fmt.Errorf("blob %s: %w", key, core.ErrNotFound)
		}
		return nil, "", fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, aws.ToString(resp.ContentType), nil
}
