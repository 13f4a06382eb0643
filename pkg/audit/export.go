package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoSink is returned when export is invoked without a backing sink.
var ErrNoSink = errors.New("audit: export sink not configured")

// Pack is an exported bundle: a zip of the current rows plus its checksum.
type Pack struct {
	Data     []byte
	Checksum string
	RowCount int
}

// Exporter builds evidence packs from a sink's current rows.
type Exporter struct {
	sink  QueryableSink
	clock func() time.Time
}

// NewExporter wraps sink for export.
func NewExporter(sink QueryableSink) *Exporter {
	return &Exporter{sink: sink, clock: time.Now}
}

// WithClock fixes the exporter's time source.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// GeneratePack zips the current rows with a manifest and returns the bundle
// and its SHA-256 checksum. The pack is self-contained: a reader needs
// nothing from the live gateway to interpret it.
func (e *Exporter) GeneratePack(ctx context.Context) (*Pack, error) {
	if e.sink == nil {
		return nil, ErrNoSink
	}
	rows, err := e.sink.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit: export read: %w", err)
	}

	entriesJSON, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit: export marshal: %w", err)
	}

	now := e.clock().UTC()
	manifest := map[string]any{
		"format":       "gangway-audit/v1",
		"generated_at": now.Format(time.RFC3339),
		"row_count":    len(rows),
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("audit: export manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("entries.json")
	if err != nil {
		return nil, fmt.Errorf("audit: export zip: %w", err)
	}
	_, _ = f.Write(entriesJSON)

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, fmt.Errorf("audit: export zip: %w", err)
	}
	_, _ = f.Write(manifestJSON)

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, fmt.Errorf("audit: export zip: %w", err)
	}
	_, _ = fmt.Fprintf(f, "Gateway audit export\nGenerated at %s\nRows: %d\n", now.Format(time.RFC3339), len(rows))

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("audit: export zip close: %w", err)
	}

	data := buf.Bytes()
	sum := sha256.Sum256(data)
	return &Pack{
		Data:     data,
		Checksum: hex.EncodeToString(sum[:]),
		RowCount: len(rows),
	}, nil
}
