package snapshot

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
)

// GCS stores snapshot objects in a Google Cloud Storage bucket.
type GCS struct {
	Client     *storage.Client
	BucketName string
}

// NewGCS initializes a GCS client and verifies bucket access.
// Authentication is handled via Application Default Credentials.
func NewGCS(ctx context.Context, bucketName string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	// Fail fast on startup if the bucket is missing or forbidden.
	if _, err := client.Bucket(bucketName).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logging.L.Warn("failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", bucketName, err)
	}

	return &GCS{Client: client, BucketName: bucketName}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (g *GCS) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	wc := g.Client.Bucket(g.BucketName).Object(path).NewWriter(ctx)
	wc.ContentType = contentType

	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			logging.L.Warn("failed to close GCS writer after write failure", zap.Error(closeErr))
		}
		return "", fmt.Errorf("failed to write GCS object %s: %w", path, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for object %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.BucketName, path), nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.Client.Close()
}
