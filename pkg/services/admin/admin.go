// Package admin exposes the gateway's operator surface through the normal
// dispatch pipeline: configuration, audit log management, the IP
// allow-list, and a health report. Every action rides the same
// authenticated envelope as the rest of the services.
package admin

import (
	"context"
	"encoding/base64"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/artifacts"
	"github.com/Mindburn-Labs/gangway/pkg/audit"
	"github.com/Mindburn-Labs/gangway/pkg/config"
	"github.com/Mindburn-Labs/gangway/pkg/dispatch"
	"github.com/Mindburn-Labs/gangway/pkg/firewall"
	"github.com/Mindburn-Labs/gangway/pkg/version"
)

// Handler implements the admin service.
type Handler struct {
	cfg      *config.Config
	sink     audit.QueryableSink
	exports  artifacts.Store
	services func() []string
	clock    func() time.Time
	logger   *slog.Logger
}

// Option configures optional handler collaborators.
type Option func(*Handler)

// WithExportStore enables log.export uploads.
func WithExportStore(store artifacts.Store) Option {
	return func(h *Handler) { h.exports = store }
}

// WithServices supplies the registered-service listing for health reports.
func WithServices(fn func() []string) Option {
	return func(h *Handler) { h.services = fn }
}

// WithClock fixes the handler's time source.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) { h.clock = clock }
}

// NewHandler wires the admin service. sink may be nil when auditing runs
// without a queryable backend; the log actions then report accordingly.
func NewHandler(cfg *config.Config, sink audit.QueryableSink, opts ...Option) *Handler {
	h := &Handler{
		cfg:      cfg,
		sink:     sink,
		services: func() []string { return nil },
		clock:    time.Now,
		logger:   slog.Default().With("component", "admin"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Actions lists the verbs the handler accepts.
func (h *Handler) Actions() []string {
	return []string{
		"config.get", "config.set",
		"log.status", "log.clear", "log.export",
		"ip.list", "ip.add", "ip.remove",
		"health",
	}
}

// Handle routes one action.
func (h *Handler) Handle(ctx context.Context, action string, params map[string]any) (any, error) {
	switch action {
	case "config.get":
		return h.configGet(ctx)
	case "config.set":
		return h.configSet(ctx, params)
	case "log.status":
		return h.logStatus(ctx)
	case "log.clear":
		return h.logClear(ctx)
	case "log.export":
		return h.logExport(ctx)
	case "ip.list":
		return h.ipList(ctx)
	case "ip.add":
		return h.ipAdd(ctx, params)
	case "ip.remove":
		return h.ipRemove(ctx, params)
	case "health":
		return h.health(ctx, params)
	default:
		return nil, api.Errorf(api.CodeNotFound, "Unknown action: admin.%s", action)
	}
}

func (h *Handler) configGet(ctx context.Context) (any, error) {
	snap, err := h.cfg.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"config": snap}, nil
}

func (h *Handler) configSet(ctx context.Context, params map[string]any) (any, error) {
	if apiErr := dispatch.RequireParams(params, "key"); apiErr != nil {
		return nil, apiErr
	}
	key := dispatch.StringParam(params, "key")
	if strings.HasPrefix(key, "_") {
		return nil, api.Errorf(api.CodeInvalidRequest, "Invalid configuration key: %s", key)
	}

	value, _ := params["value"].(string)
	if err := h.cfg.Set(ctx, key, value); err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "config updated", "key", key)
	return map[string]any{"key": key, "updated": true}, nil
}

func (h *Handler) logStatus(ctx context.Context) (any, error) {
	rows := 0
	if h.sink != nil {
		n, err := h.sink.RowCount(ctx)
		if err != nil {
			return nil, err
		}
		// The stored header row is bookkeeping, not data.
		if n > 0 {
			rows = n - 1
		}
	}

	sinkID := h.cfg.Value(ctx, config.KeyLogSinkID)
	if sinkID == "" {
		sinkID = "default"
	}
	return map[string]any{
		"rows":    rows,
		"maxRows": h.cfg.Int(ctx, config.KeyLogMaxRows),
		"sinkId":  sinkID,
		"enabled": h.cfg.Bool(ctx, config.KeyLogEnabled),
	}, nil
}

func (h *Handler) logClear(ctx context.Context) (any, error) {
	if h.sink == nil {
		return nil, audit.ErrNoSink
	}
	if err := h.sink.Reset(ctx); err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "audit log cleared")
	return map[string]any{"cleared": true}, nil
}

func (h *Handler) logExport(ctx context.Context) (any, error) {
	pack, err := audit.NewExporter(h.sink).WithClock(h.clock).GeneratePack(ctx)
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"rowCount": pack.RowCount,
		"checksum": pack.Checksum,
	}
	if bucket := h.cfg.Value(ctx, config.KeyExportBucket); bucket != "" && h.exports != nil {
		key, err := h.exports.Store(ctx, pack.Data)
		if err != nil {
			return nil, err
		}
		data["stored"] = true
		data["bucket"] = bucket
		data["location"] = key
		return data, nil
	}

	data["stored"] = false
	data["data"] = base64.StdEncoding.EncodeToString(pack.Data)
	return data, nil
}

func (h *Handler) ipList(ctx context.Context) (any, error) {
	entries := h.cfg.CSV(ctx, config.KeyIPAllowlist)
	return map[string]any{"entries": entries, "count": len(entries)}, nil
}

func (h *Handler) ipAdd(ctx context.Context, params map[string]any) (any, error) {
	if apiErr := dispatch.RequireParams(params, "entry"); apiErr != nil {
		return nil, apiErr
	}
	entry := dispatch.StringParam(params, "entry")
	if !firewall.ValidEntry(entry) {
		return nil, api.Errorf(api.CodeInvalidRequest, "Invalid IP or CIDR entry: %s", entry)
	}

	entries := h.cfg.CSV(ctx, config.KeyIPAllowlist)
	added := false
	if !slices.Contains(entries, entry) {
		entries = append(entries, entry)
		if err := h.cfg.Set(ctx, config.KeyIPAllowlist, strings.Join(entries, ",")); err != nil {
			return nil, err
		}
		added = true
	}
	return map[string]any{"entries": entries, "added": added}, nil
}

func (h *Handler) ipRemove(ctx context.Context, params map[string]any) (any, error) {
	if apiErr := dispatch.RequireParams(params, "entry"); apiErr != nil {
		return nil, apiErr
	}
	entry := dispatch.StringParam(params, "entry")

	entries := h.cfg.CSV(ctx, config.KeyIPAllowlist)
	kept := slices.DeleteFunc(slices.Clone(entries), func(e string) bool { return e == entry })
	removed := len(kept) < len(entries)
	if removed {
		if err := h.cfg.Set(ctx, config.KeyIPAllowlist, strings.Join(kept, ",")); err != nil {
			return nil, err
		}
	}
	return map[string]any{"entries": kept, "removed": removed}, nil
}

func (h *Handler) health(ctx context.Context, params map[string]any) (any, error) {
	data := map[string]any{
		"status":     "healthy",
		"timestamp":  h.clock().UTC().Format(time.RFC3339),
		"version":    version.Version,
		"configured": h.cfg.Configured(ctx),
		"services":   h.services(),
	}

	clientVersion := dispatch.StringParam(params, "clientVersion")
	if clientVersion == "" {
		return data, nil
	}
	cv, err := semver.NewVersion(clientVersion)
	if err != nil {
		return nil, api.Errorf(api.CodeInvalidRequest, "Invalid clientVersion: %s", clientVersion)
	}

	supported := true
	if floor := h.cfg.Value(ctx, config.KeyMinClientVersion); floor != "" {
		min, err := semver.NewVersion(floor)
		if err != nil {
			// Operator typo in MIN_CLIENT_VERSION must not lock clients out.
			h.logger.WarnContext(ctx, "min client version unparseable", "value", floor, "error", err)
		} else {
			supported = !cv.LessThan(min)
		}
	}
	data["supported"] = supported

	if server, err := semver.NewVersion(version.Version); err == nil {
		data["upgradeAvailable"] = cv.LessThan(server)
	}
	return data, nil
}
