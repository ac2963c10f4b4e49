// Package storage keeps uploaded catalog files until an ingestion worker
// streams them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"catalogsync/internal/config"
)

var ErrNotFound = errors.New("file not found")

// Object describes a stored upload.
type Object struct {
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

type FileStore interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) (Object, error)
	Open(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, key string) error
	// CleanupOlderThan removes objects last modified before cutoff and
	// reports how many were removed.
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

func New(ctx context.Context, cfg config.StorageConfig) (FileStore, error) {
	switch cfg.Driver {
	case "minio":
		return NewMinIOStore(ctx, cfg.MinIO)
	case "local", "":
		return NewLocalStore(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// UploadKey places uploads under a per-day prefix keyed by task id.
func UploadKey(taskID, filename string, now time.Time) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".csv"
	}
	return path.Join("uploads", now.UTC().Format("2006/01/02"), taskID+ext)
}

func cleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	clean := path.Clean("/" + key)
	clean = strings.TrimLeft(clean, "/")
	if clean == "" || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid key: %s", key)
	}
	return clean, nil
}
