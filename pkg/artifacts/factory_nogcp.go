//go:build !gcp

package artifacts

import (
	"context"
	"fmt"
)

func newGCSStoreFromEnv(_ context.Context) (Store, error) {
	return nil, fmt.Errorf("artifacts: gcs backend not compiled in (build with -tags gcp)")
}
