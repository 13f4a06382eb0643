//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore keeps blobs in a Google Cloud Storage bucket, one object per
// digest. Built only with -tags gcp; the SDK pulls a large dependency
// graph the default build does not need.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig selects the bucket and an optional object prefix.
type GCSConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore builds the store using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	key := Key(data)
	obj := s.object(strings.TrimPrefix(key, KeyPrefix))

	// Same digest, same bytes. Attrs succeeding means the upload can be
	// skipped.
	if _, err := obj.Attrs(ctx); err == nil {
		return key, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/zip"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("artifacts: gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("artifacts: gcs commit: %w", err)
	}
	return key, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	r, err := s.object(raw).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs get %s: %w", key, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("artifacts: gcs read %s: %w", key, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	raw, err := parseKey(key)
	if err != nil {
		return false, err
	}

	if _, err := s.object(raw).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("artifacts: gcs attrs %s: %w", key, err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	raw, err := parseKey(key)
	if err != nil {
		return err
	}

	if err := s.object(raw).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("artifacts: gcs delete %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) object(rawHex string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + rawHex + ".blob")
}
