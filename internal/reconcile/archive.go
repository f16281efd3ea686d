package reconcile

import (
	"context"

	"salesops_backend/internal/adapters/storage"
)

// PageArchive keeps the raw provider pages of each sync for audit.
type PageArchive interface {
	Store(ctx context.Context, key string, data []byte) error
}

// ObjectArchive stores pages in an object storage bucket.
type ObjectArchive struct {
	store  storage.ObjectStore
	bucket string
}

// NewObjectArchive ensures the bucket exists and returns the archive.
func NewObjectArchive(ctx context.Context, store storage.ObjectStore, bucket string) (*ObjectArchive, error) {
	if err := store.EnsureBucketExists(ctx, bucket); err != nil {
		return nil, err
	}
	return &ObjectArchive{store: store, bucket: bucket}, nil
}

func (a *ObjectArchive) Store(ctx context.Context, key string, data []byte) error {
	return a.store.PutObject(ctx, a.bucket, key, "application/json", data)
}
