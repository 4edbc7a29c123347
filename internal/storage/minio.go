package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Minio stores objects in any S3-compatible service.
type Minio struct {
	client *minio.Client
	bucket string
	urlTTL time.Duration
}

// MinioOptions configure a Minio store. An empty Region is looked up from the
// bucket on first use.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
	URLTTL    time.Duration
}

// NewMinio creates a Minio store. It does not contact the server.
func NewMinio(opts MinioOptions) (*Minio, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("NewMinio: create client: %w", err)
	}
	return &Minio{client: client, bucket: opts.Bucket, urlTTL: opts.URLTTL}, nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (s *Minio) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("Minio.EnsureBucket: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("Minio.EnsureBucket: create bucket: %w", err)
	}
	return nil
}

// Store implements Store.
func (s *Minio) Store(ctx context.Context, data []byte, folder, fileName, contentType string) (string, error) {
	key := ObjectKey(folder, fileName)
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("Minio.Store: put object: %w", err)
	}
	return key, nil
}

// Get implements Store.
func (s *Minio) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("Minio.Get: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("Minio.Get: read object: %w", err)
	}
	return data, nil
}

// URL implements Store with a presigned GET URL.
func (s *Minio) URL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlTTL, nil)
	if err != nil {
		return "", fmt.Errorf("Minio.URL: presign: %w", err)
	}
	return u.String(), nil
}

// Delete implements Store.
func (s *Minio) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("Minio.Delete: %w", err)
	}
	return nil
}

// Exists implements Store.
func (s *Minio) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("Minio.Exists: %w", err)
}
