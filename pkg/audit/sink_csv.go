package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{"timestamp", "requestId", "clientIp", "service", "action", "status", "durationMs", "error"}

// CSVSink stores rows in a plain CSV file, one physical header line plus
// one line per entry. Selected by LOG_SINK_ID values of the form
// file:<path>. The file is shared-nothing: no cross-process locking beyond
// what the appender's advisory lock gives this process.
type CSVSink struct {
	mu   sync.Mutex
	path string
}

// NewCSVSink builds a sink over path. The file appears on first append.
func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

func (c *CSVSink) AppendHeader(ctx context.Context) error {
	return c.appendRecord(ctx, csvHeader)
}

func (c *CSVSink) Append(ctx context.Context, e Entry) error {
	return c.appendRecord(ctx, []string{
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.RequestID,
		e.ClientIP,
		e.Service,
		e.Action,
		string(e.Status),
		strconv.FormatInt(e.DurationMS, 10),
		e.ErrorMessage,
	})
}

func (c *CSVSink) appendRecord(_ context.Context, record []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("audit: csv mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit: csv open: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record); err != nil {
		return fmt.Errorf("audit: csv write: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("audit: csv flush: %w", err)
	}
	return nil
}

func (c *CSVSink) RowCount(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.readAll()
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (c *CSVSink) DeleteOldest(_ context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.readAll()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	kept := [][]string{records[0]}
	data := records[1:]
	if n < len(data) {
		kept = append(kept, data[n:]...)
	}
	return c.rewrite(kept)
}

func (c *CSVSink) Rows(context.Context) ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	records, err := c.readAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, nil
	}

	out := make([]Entry, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) < len(csvHeader) {
			continue
		}
		duration, _ := strconv.ParseInt(rec[6], 10, 64)
		out = append(out, Entry{
			Timestamp:    parseTime(rec[0]),
			RequestID:    rec[1],
			ClientIP:     rec[2],
			Service:      rec[3],
			Action:       rec[4],
			Status:       Status(rec[5]),
			DurationMS:   duration,
			ErrorMessage: rec[7],
		})
	}
	return out, nil
}

func (c *CSVSink) Reset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("audit: csv reset: %w", err)
	}
	return nil
}

// readAll returns every record in the file; a missing file reads as empty.
func (c *CSVSink) readAll() ([][]string, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: csv open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("audit: csv read: %w", err)
	}
	return records, nil
}

// rewrite replaces the file atomically via a sibling temp file.
func (c *CSVSink) rewrite(records [][]string) error {
	tmp := c.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("audit: csv rewrite open: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(records); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("audit: csv rewrite: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audit: csv rewrite close: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audit: csv rewrite rename: %w", err)
	}
	return nil
}
