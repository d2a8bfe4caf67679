package stores

import (
	"context"
	"errors"
	"fmt"
	"groupchat-server/config"
	"groupchat-server/core"
	"groupchat-server/stores/aws"
	"groupchat-server/stores/filesystem"
	"groupchat-server/stores/memory"
	"groupchat-server/stores/mongo"
	"groupchat-server/stores/redis"
	"groupchat-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Backend bundles the stores selected by configuration.
type Backend struct {
	Store core.Store
	// Status receives presence transitions. It is Store itself unless a
	// redis mirror is configured.
	Status core.StatusStore
	Blobs  core.BlobStore
	Mirror *redis.StatusMirror

	closers []func() error
}

func GetStore(ctx context.Context, cfg config.Config) (core.Store, func() error, error) {
	storageField := logrus.Fields{
		"storageType": cfg.StorageType,
	}

	var (
		store  core.Store
		closer = func() error { return nil }
	)
	switch cfg.StorageType {
	case "sqlite":
		storageField["dataSourceName"] = cfg.DataSourceName
		s, err := sqlite.NewStore(cfg.DataSourceName)
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, s.Close
	case "mongo":
		storageField["database"] = cfg.MongoDatabase
		s, err := mongo.NewStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, s.Close
	case "", "memory":
		store = memory.NewStore()
		storageField["storageType"] = "in-memory"
	default:
		return nil, nil, fmt.Errorf("unknown STORAGE_TYPE %q", cfg.StorageType)
	}
	logrus.WithFields(storageField).Info("Use storage")
	return store, closer, nil
}

func GetBlobStore(ctx context.Context, cfg config.Config) (core.BlobStore, error) {
	switch {
	case cfg.S3BucketName != "":
		logrus.WithField("bucket", cfg.S3BucketName).Info("Use S3 attachment storage")
		return aws.NewBlobStore(ctx, cfg.S3BucketName)
	case cfg.LocalStoragePath != "":
		logrus.WithField("basePath", cfg.LocalStoragePath).Info("Use filesystem attachment storage")
		return filesystem.NewBlobStore(cfg.LocalStoragePath)
	default:
		logrus.Info("Use in-memory attachment storage")
		return memory.NewBlobStore(), nil
	}
}

// Open builds every store the server needs. Close releases them.
func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	store, closeStore, err := GetStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := &Backend{Store: store, Status: store, closers: []func() error{closeStore}}

	if b.Blobs, err = GetBlobStore(ctx, cfg); err != nil {
		b.Close()
		return nil, err
	}

	if cfg.RedisAddr != "" {
		rdb, err := redis.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Mirror = redis.NewStatusMirror(store, rdb)
		b.Status = b.Mirror
		b.closers = append(b.closers, rdb.Close)
		logrus.WithField("addr", cfg.RedisAddr).Info("Mirroring presence status to redis")
	}
	return b, nil
}

func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
