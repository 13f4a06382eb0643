// Package artifacts stores audit export packs as content-addressed blobs.
//
// Keys are "sha256:<hex>" over the blob bytes: storing the same pack twice
// is a no-op, and a fetched blob can always be checked against its own
// name. The filesystem store is the default; the S3 and GCS backends cover
// deployments where packs must outlive the gateway host.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// KeyPrefix tags every store key with its digest algorithm.
const KeyPrefix = "sha256:"

// ErrNotFound reports a key with no blob behind it.
var ErrNotFound = errors.New("artifacts: not found")

// Store is a content-addressed blob store.
type Store interface {
	// Store persists data and returns its key.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves a blob by key.
	Get(ctx context.Context, key string) ([]byte, error)
	// Exists reports whether a blob is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes a blob. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Key computes the store key for data.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// parseKey validates a store key and returns the bare hex digest.
func parseKey(key string) (string, error) {
	raw, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok || len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("artifacts: malformed key: %s", key)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("artifacts: malformed key %s: %w", key, err)
	}
	return raw, nil
}

// FileStore keeps blobs as files under one directory, named by digest.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: ensure store dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Store(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key(data)
	path := s.blobPath(strings.TrimPrefix(key, KeyPrefix))
	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	// Write a sibling temp file, then rename into place so readers never
	// see a half-written blob.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: commit blob: %w", err)
	}
	return key, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.blobPath(raw))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := parseKey(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(s.blobPath(raw)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("artifacts: stat blob: %w", err)
	}
	return true, nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := parseKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(s.blobPath(raw)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifacts: delete blob: %w", err)
	}
	return nil
}

func (s *FileStore) blobPath(rawHex string) string {
	return filepath.Join(s.baseDir, rawHex+".blob")
}
