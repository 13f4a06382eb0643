package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by NewStoreFromEnv.
const (
	BackendFS  = "fs"
	BackendS3  = "s3"
	BackendGCS = "gcs"
)

// NewStoreFromEnv selects the export-pack backend from the environment:
//
//	GANGWAY_EXPORT_STORE        "fs" (default), "s3", or "gcs"
//	GANGWAY_EXPORT_S3_BUCKET    required for s3
//	GANGWAY_EXPORT_S3_REGION    falls back to AWS_REGION, then us-east-1
//	GANGWAY_EXPORT_S3_ENDPOINT  optional, for MinIO/LocalStack
//	GANGWAY_EXPORT_S3_PREFIX    optional object prefix
//	GANGWAY_EXPORT_GCS_BUCKET   required for gcs (build with -tags gcp)
//	GANGWAY_EXPORT_GCS_PREFIX   optional object prefix
//
// dataDir anchors the filesystem backend; packs land in dataDir/exports.
func NewStoreFromEnv(ctx context.Context, dataDir string) (Store, error) {
	backend := os.Getenv("GANGWAY_EXPORT_STORE")
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "exports"))
	case BackendS3:
		return newS3StoreFromEnv(ctx)
	case BackendGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("artifacts: unsupported export store backend: %s", backend)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("GANGWAY_EXPORT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("artifacts: GANGWAY_EXPORT_S3_BUCKET is required for the s3 backend")
	}

	region := os.Getenv("GANGWAY_EXPORT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("GANGWAY_EXPORT_S3_ENDPOINT"),
		Prefix:   os.Getenv("GANGWAY_EXPORT_S3_PREFIX"),
	})
}
