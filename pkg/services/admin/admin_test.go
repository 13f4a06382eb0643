package admin_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/artifacts"
	"github.com/Mindburn-Labs/gangway/pkg/audit"
	"github.com/Mindburn-Labs/gangway/pkg/config"
	"github.com/Mindburn-Labs/gangway/pkg/services/admin"
	"github.com/Mindburn-Labs/gangway/pkg/version"
)

var adminNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newHandler(t *testing.T, opts ...admin.Option) (*admin.Handler, *config.Config, *audit.MemorySink) {
	t.Helper()
	cfg := config.New(config.NewMemoryStore())
	sink := audit.NewMemorySink()
	opts = append([]admin.Option{admin.WithClock(func() time.Time { return adminNow })}, opts...)
	return admin.NewHandler(cfg, sink, opts...), cfg, sink
}

func asAPIError(t *testing.T, err error) *api.Error {
	t.Helper()
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	return apiErr
}

func seedSink(t *testing.T, sink *audit.MemorySink, n int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, sink.AppendHeader(ctx))
	for i := range n {
		require.NoError(t, sink.Append(ctx, audit.Entry{
			Timestamp: adminNow.Add(time.Duration(i) * time.Second),
			RequestID: "req-1",
			Service:   "mail",
			Action:    "list",
			Status:    audit.StatusOK,
		}))
	}
}

func TestConfigGetHidesInternalKeys(t *testing.T) {
	ctx := context.Background()
	h, cfg, _ := newHandler(t)
	require.NoError(t, cfg.Set(ctx, config.KeyLogEnabled, "true"))
	require.NoError(t, cfg.Set(ctx, config.KeyDeployedAt, adminNow.Format(time.RFC3339)))

	result, err := h.Handle(ctx, "config.get", nil)
	require.NoError(t, err)

	snap := result.(map[string]any)["config"].(map[string]string)
	assert.Equal(t, "true", snap[config.KeyLogEnabled])
	assert.NotContains(t, snap, config.KeyDeployedAt)
}

func TestConfigSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	h, cfg, _ := newHandler(t)

	result, err := h.Handle(ctx, "config.set", map[string]any{"key": config.KeyLogMaxRows, "value": "250"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": config.KeyLogMaxRows, "updated": true}, result)
	assert.Equal(t, 250, cfg.Int(ctx, config.KeyLogMaxRows))
}

func TestConfigSetRejectsInternalKeys(t *testing.T) {
	h, _, _ := newHandler(t)

	for _, key := range []string{config.KeyDeployedAt, config.KeyInitClosed, "_anything"} {
		_, err := h.Handle(context.Background(), "config.set", map[string]any{"key": key, "value": "x"})
		apiErr := asAPIError(t, err)
		assert.Equal(t, api.CodeInvalidRequest, apiErr.Code, key)
	}
}

func TestConfigSetRequiresKey(t *testing.T) {
	h, _, _ := newHandler(t)

	_, err := h.Handle(context.Background(), "config.set", map[string]any{"value": "x"})
	apiErr := asAPIError(t, err)
	assert.Equal(t, api.CodeInvalidRequest, apiErr.Code)
}

func TestLogStatusCountsDataRowsOnly(t *testing.T) {
	ctx := context.Background()
	h, cfg, sink := newHandler(t)
	require.NoError(t, cfg.Set(ctx, config.KeyLogMaxRows, "500"))
	require.NoError(t, cfg.Set(ctx, config.KeyLogEnabled, "true"))
	seedSink(t, sink, 3)

	result, err := h.Handle(ctx, "log.status", nil)
	require.NoError(t, err)

	data := result.(map[string]any)
	assert.Equal(t, 3, data["rows"], "header row is not data")
	assert.Equal(t, 500, data["maxRows"])
	assert.Equal(t, "default", data["sinkId"])
	assert.Equal(t, true, data["enabled"])
}

func TestLogStatusEmptySink(t *testing.T) {
	h, _, _ := newHandler(t)

	result, err := h.Handle(context.Background(), "log.status", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.(map[string]any)["rows"])
}

func TestLogClear(t *testing.T) {
	ctx := context.Background()
	h, _, sink := newHandler(t)
	seedSink(t, sink, 2)

	result, err := h.Handle(ctx, "log.clear", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"cleared": true}, result)

	n, err := sink.RowCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLogClearWithoutSink(t *testing.T) {
	cfg := config.New(config.NewMemoryStore())
	h := admin.NewHandler(cfg, nil)

	_, err := h.Handle(context.Background(), "log.clear", nil)
	require.ErrorIs(t, err, audit.ErrNoSink)
}

func TestLogExportInline(t *testing.T) {
	ctx := context.Background()
	h, _, sink := newHandler(t)
	seedSink(t, sink, 2)

	result, err := h.Handle(ctx, "log.export", nil)
	require.NoError(t, err)

	data := result.(map[string]any)
	assert.Equal(t, false, data["stored"])
	assert.Equal(t, 2, data["rowCount"])
	assert.NotEmpty(t, data["checksum"])

	raw, err := base64.StdEncoding.DecodeString(data["data"].(string))
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "entries.json")
	assert.Contains(t, names, "manifest.json")
}

func TestLogExportUploadsWhenBucketSet(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	h, cfg, sink := newHandler(t, admin.WithExportStore(store))
	require.NoError(t, cfg.Set(ctx, config.KeyExportBucket, "audit-packs"))
	seedSink(t, sink, 1)

	result, err := h.Handle(ctx, "log.export", nil)
	require.NoError(t, err)

	data := result.(map[string]any)
	assert.Equal(t, true, data["stored"])
	assert.Equal(t, "audit-packs", data["bucket"])
	assert.NotContains(t, data, "data", "uploaded packs are not inlined")

	ok, err := store.Exists(ctx, data["location"].(string))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIPAddListRemove(t *testing.T) {
	ctx := context.Background()
	h, cfg, _ := newHandler(t)

	result, err := h.Handle(ctx, "ip.add", map[string]any{"entry": "203.0.113.0/24"})
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["added"])

	// Adding the same entry again is a no-op.
	result, err = h.Handle(ctx, "ip.add", map[string]any{"entry": "203.0.113.0/24"})
	require.NoError(t, err)
	assert.Equal(t, false, result.(map[string]any)["added"])
	assert.Equal(t, []string{"203.0.113.0/24"}, cfg.CSV(ctx, config.KeyIPAllowlist))

	result, err = h.Handle(ctx, "ip.list", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.(map[string]any)["count"])

	result, err = h.Handle(ctx, "ip.remove", map[string]any{"entry": "203.0.113.0/24"})
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["removed"])
	assert.Empty(t, cfg.CSV(ctx, config.KeyIPAllowlist))

	result, err = h.Handle(ctx, "ip.remove", map[string]any{"entry": "203.0.113.0/24"})
	require.NoError(t, err)
	assert.Equal(t, false, result.(map[string]any)["removed"])
}

func TestIPAddRejectsMalformedEntry(t *testing.T) {
	h, _, _ := newHandler(t)

	for _, entry := range []string{"not-an-ip", "10.0.0.0/40", ""} {
		_, err := h.Handle(context.Background(), "ip.add", map[string]any{"entry": entry})
		apiErr := asAPIError(t, err)
		assert.Equal(t, api.CodeInvalidRequest, apiErr.Code, entry)
	}
}

func TestHealthReport(t *testing.T) {
	ctx := context.Background()
	h, cfg, _ := newHandler(t, admin.WithServices(func() []string { return []string{"admin", "mail"} }))

	result, err := h.Handle(ctx, "health", nil)
	require.NoError(t, err)

	data := result.(map[string]any)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, "2024-05-01T12:00:00Z", data["timestamp"])
	assert.Equal(t, version.Version, data["version"])
	assert.Equal(t, false, data["configured"])
	assert.Equal(t, []string{"admin", "mail"}, data["services"])
	assert.NotContains(t, data, "supported", "no client version, no compatibility verdict")

	require.NoError(t, cfg.Set(ctx, config.KeyJWTSecret, "s"))
	result, err = h.Handle(ctx, "health", nil)
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["configured"])
}

func TestHealthClientVersionFloor(t *testing.T) {
	ctx := context.Background()
	h, cfg, _ := newHandler(t)
	require.NoError(t, cfg.Set(ctx, config.KeyMinClientVersion, "1.2.0"))

	result, err := h.Handle(ctx, "health", map[string]any{"clientVersion": "1.1.9"})
	require.NoError(t, err)
	assert.Equal(t, false, result.(map[string]any)["supported"])

	result, err = h.Handle(ctx, "health", map[string]any{"clientVersion": "1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["supported"])

	result, err = h.Handle(ctx, "health", map[string]any{"clientVersion": "2.0.0"})
	require.NoError(t, err)
	data := result.(map[string]any)
	assert.Equal(t, true, data["supported"])
	assert.Equal(t, false, data["upgradeAvailable"])
}

func TestHealthRejectsGarbageClientVersion(t *testing.T) {
	h, _, _ := newHandler(t)

	_, err := h.Handle(context.Background(), "health", map[string]any{"clientVersion": "banana"})
	apiErr := asAPIError(t, err)
	assert.Equal(t, api.CodeInvalidRequest, apiErr.Code)
}

func TestHealthToleratesBadVersionFloor(t *testing.T) {
	ctx := context.Background()
	h, cfg, _ := newHandler(t)
	require.NoError(t, cfg.Set(ctx, config.KeyMinClientVersion, "not-a-version"))

	result, err := h.Handle(ctx, "health", map[string]any{"clientVersion": "0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, true, result.(map[string]any)["supported"], "broken floor must not lock clients out")
}

func TestUnknownAction(t *testing.T) {
	h, _, _ := newHandler(t)

	_, err := h.Handle(context.Background(), "reboot", nil)
	apiErr := asAPIError(t, err)
	assert.Equal(t, api.CodeNotFound, apiErr.Code)
	assert.Contains(t, apiErr.Message, "admin.reboot")
}
