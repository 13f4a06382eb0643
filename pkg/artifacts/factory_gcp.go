//go:build gcp

package artifacts

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("GANGWAY_EXPORT_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: GANGWAY_EXPORT_GCS_BUCKET is required for the gcs backend")
	}
	return NewGCSStore(ctx, GCSConfig{
		Bucket: bucket,
		Prefix: os.Getenv("GANGWAY_EXPORT_GCS_PREFIX"),
	})
}
