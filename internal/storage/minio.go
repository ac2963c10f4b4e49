package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"catalogsync/internal/config"
	"catalogsync/pkg/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minioInitAttempts  = 5
	cleanupConcurrency = 4
)

type MinIOStore struct {
	client *minio.Client
	bucket string
}

// NewMinIOStore connects and ensures the bucket exists, retrying with
// doubling backoff while the object store comes up.
func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty MinIO endpoint")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("empty MinIO bucket")
	}

	var lastErr error
	interval := time.Second
	for attempt := range minioInitAttempts {
		client, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			lastErr = fmt.Errorf("create MinIO client: %w", err)
		} else if err := ensureBucket(ctx, client, cfg.Bucket); err != nil {
			lastErr = err
		} else {
			return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
		}

		if attempt == minioInitAttempts-1 {
			break
		}
		logger.Warn("minio not ready, retrying", zap.Int("attempt", attempt+1), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled while waiting to retry MinIO: %w", ctx.Err())
		case <-time.After(interval):
			interval *= 2
		}
	}
	return nil, fmt.Errorf("init MinIO failed after %d attempts: %w", minioInitAttempts, lastErr)
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *MinIOStore) Save(ctx context.Context, key string, reader io.Reader, size int64) (Object, error) {
	name, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}

	hasher := sha256.New()
	putSize := size
	if putSize <= 0 {
		putSize = -1
	}

	info, err := s.client.PutObject(ctx, s.bucket, name, io.TeeReader(reader, hasher), putSize, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return Object{}, fmt.Errorf("put object: %w", err)
	}

	return Object{Key: key, Size: info.Size, SHA256: hex.EncodeToString(hasher.Sum(nil))}, nil
}

func (s *MinIOStore) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	name, err := cleanKey(key)
	if err != nil {
		return nil, 0, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get object: %w", err)
	}

	st, err := obj.Stat()
	if err != nil {
		obj.Close()
		if resp := minio.ToErrorResponse(err); resp.Code == minio.NoSuchKey {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, 0, fmt.Errorf("stat object: %w", err)
	}

	return obj, st.Size, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	name, err := cleanKey(key)
	if err != nil {
		return err
	}

	err = s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{})
	if err != nil {
		var merr minio.ErrorResponse
		if errors.As(err, &merr) && merr.Code == minio.NoSuchKey {
			return nil
		}
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *MinIOStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cleanupConcurrency)

	var removed atomic.Int64
	opts := minio.ListObjectsOptions{Prefix: "uploads/", Recursive: true}
	for info := range s.client.ListObjects(gctx, s.bucket, opts) {
		if info.Err != nil {
			logger.Warn("list objects failed", zap.Error(info.Err))
			continue
		}
		if !info.LastModified.Before(cutoff) {
			continue
		}
		objectKey := info.Key
		g.Go(func() error {
			if err := s.client.RemoveObject(gctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
				return fmt.Errorf("remove old object %s: %w", objectKey, err)
			}
			removed.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return int(removed.Load()), err
}
