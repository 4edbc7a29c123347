// Package storage keeps uploaded source documents in an object store.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/dvloznov/expense-ingest/internal/config"
	"github.com/google/uuid"
)

// Store is an opaque object store addressed by key.
type Store interface {
	// Store writes data under a new key inside folder and returns the key.
	Store(ctx context.Context, data []byte, folder, fileName, contentType string) (string, error)

	// Get reads the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// URL returns a time-limited URL for reading key.
	URL(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}

// ObjectKey builds "folder/<uuid><ext>", keeping the lowercased extension of fileName.
func ObjectKey(folder, fileName string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(fileName, "\\", "/"))))
	return path.Join(strings.Trim(folder, "/"), uuid.NewString()+ext)
}

// New builds the store named in cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Provider {
	case "gcs":
		return NewGCS(ctx, cfg.Bucket, cfg.URLTTL)
	case "minio":
		return NewMinio(MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Region:    cfg.MinioRegion,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.MinioUseSSL,
			URLTTL:    cfg.URLTTL,
		})
	default:
		return nil, fmt.Errorf("storage.New: unknown provider %q", cfg.Provider)
	}
}
