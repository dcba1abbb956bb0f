package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// GCSStore writes artifacts to a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

var _ ArtifactStore = (*GCSStore)(nil)

func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	if client == nil {
		panic("storage client is required")
	}
	if bucket == "" {
		panic("storage bucket is required")
	}
	return &GCSStore{client: client, bucket: bucket}
}

// Bucket is the configured bucket; it overrides ObjectLocation.Bucket when that is empty.
func (s *GCSStore) Bucket() string { return s.bucket }

func (s *GCSStore) Put(ctx context.Context, loc ObjectLocation, contentType string, data []byte) (string, error) {
	bucket := loc.Bucket
	if bucket == "" {
		bucket = s.bucket
	}

	w := s.client.Bucket(bucket).Object(loc.FullPath).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", loc.FullPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", loc.FullPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", bucket, loc.FullPath), nil
}

// Check verifies the bucket is reachable with the configured credentials. No objects are written.
func (s *GCSStore) Check(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, err)
	}
	return nil
}
