// Package storage provides a small interface over S3-compatible object
// storage, used to archive raw provider payloads for audit.
package storage

import "context"

// ObjectStore defines the object storage operations the application uses.
type ObjectStore interface {
	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error

	// PutObject stores data under key, replacing any existing object.
	PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	IsMinIOEnabled() bool
}
