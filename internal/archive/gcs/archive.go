// Package gcs archives raw scrape artifacts in a Google Cloud Storage
// bucket.
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Archive implements scraper.Archive on top of a GCS bucket.
type Archive struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// New initializes a GCS client and verifies the bucket is reachable, so
// a misconfigured bucket fails at startup rather than on the first job.
// Authentication comes from Application Default Credentials.
func New(ctx context.Context, bucket string, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after failed bucket check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check gcs bucket %q: %w", bucket, err)
	}
	return &Archive{client: client, bucket: bucket, logger: logger}, nil
}

// Save uploads data to the given object path and returns its gs:// URI.
func (a *Archive) Save(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	wc := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			a.logger.Warn("close gcs writer after failed write", zap.Error(closeErr))
		}
		return "", fmt.Errorf("write gcs object %s: %w", path, err)
	}
	// Close finalizes the upload.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("close gcs object %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, path), nil
}

// Close releases the underlying client.
func (a *Archive) Close() error {
	return a.client.Close()
}
