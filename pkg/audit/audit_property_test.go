//go:build property
// +build property

package audit_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/gangway/pkg/audit"
	"github.com/Mindburn-Labs/gangway/pkg/config"
)

func TestRollingBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("log holds min(appends, max) newest rows", prop.ForAll(
		func(appends, max int) bool {
			ctx := context.Background()
			cfg := config.New(config.NewMemoryStore())
			if err := cfg.Set(ctx, config.KeyLogMaxRows, strconv.Itoa(max)); err != nil {
				return false
			}
			sink := audit.NewMemorySink()
			log := audit.NewLogger(cfg, sink)
			for i := 1; i <= appends; i++ {
				log.Record(ctx, audit.Entry{
					RequestID: strconv.Itoa(i),
					Service:   "mail",
					Action:    "list",
					Status:    audit.StatusOK,
				})
			}

			rows, err := sink.Rows(ctx)
			if err != nil {
				return false
			}
			want := appends
			if want > max {
				want = max
			}
			if len(rows) != want {
				return false
			}
			// Survivors are the newest, in order.
			for i, row := range rows {
				if row.RequestID != strconv.Itoa(appends-want+i+1) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 60), gen.IntRange(1, 25),
	))

	properties.TestingRun(t)
}
