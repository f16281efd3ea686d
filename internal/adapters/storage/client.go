package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxObjectSize caps a single archived object.
const MaxObjectSize = 16 << 20

// AllowedContentTypes lists what may be archived.
var AllowedContentTypes = map[string]bool{
	"application/json":     true,
	"application/x-ndjson": true,
	"text/plain":           true,
}

// MinIOService implements ObjectStore using MinIO.
type MinIOService struct {
	client *minio.Client
}

var _ ObjectStore = (*MinIOService)(nil)

// NewMinIOService creates a new MinIO storage service.
func NewMinIOService(cfg Config) (*MinIOService, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOService{client: client}, nil
}

// EnsureBucketExists creates the bucket if it doesn't exist.
func (s *MinIOService) EnsureBucketExists(ctx context.Context, bucket string) error {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}

	return nil
}

// PutObject stores data under key.
func (s *MinIOService) PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error {
	if err := ValidateObject(contentType, int64(len(data))); err != nil {
		return err
	}

	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

// ValidateObject checks content type and size before upload.
func ValidateObject(contentType string, size int64) error {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if !AllowedContentTypes[ct] {
		return fmt.Errorf("content type %q is not allowed", contentType)
	}
	if size <= 0 {
		return fmt.Errorf("object is empty")
	}
	if size > MaxObjectSize {
		return fmt.Errorf("object size %d exceeds maximum of %d bytes", size, MaxObjectSize)
	}
	return nil
}
