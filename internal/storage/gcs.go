package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket. It assumes Application
// Default Credentials are configured.
type GCS struct {
	client *storage.Client
	bucket string
	urlTTL time.Duration
}

// NewGCS creates a GCS store with a shared client.
func NewGCS(ctx context.Context, bucket string, urlTTL time.Duration, opts ...option.ClientOption) (*GCS, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewGCS: create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, urlTTL: urlTTL}, nil
}

// Close releases the underlying client.
func (s *GCS) Close() error {
	return s.client.Close()
}

// Store implements Store.
func (s *GCS) Store(ctx context.Context, data []byte, folder, fileName, contentType string) (string, error) {
	key := ObjectKey(folder, fileName)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("GCS.Store: copy to writer: %w", err)
	}
	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("GCS.Store: finalize upload: %w", err)
	}
	return key, nil
}

// Get implements Store.
func (s *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("GCS.Get: open object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("GCS.Get: read object: %w", err)
	}
	return data, nil
}

// URL implements Store with a V4 signed GET URL.
func (s *GCS) URL(ctx context.Context, key string) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: time.Now().Add(s.urlTTL),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("GCS.URL: sign: %w", err)
	}
	return url, nil
}

// Delete implements Store.
func (s *GCS) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("GCS.Delete: %w", err)
	}
	return nil
}

// Exists implements Store.
func (s *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("GCS.Exists: %w", err)
	}
	return true, nil
}
