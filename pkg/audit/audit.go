// Package audit keeps the gateway's bounded rolling activity log. Every
// command leaves exactly one terminal entry; content-filter intercepts add
// their own. Entries never carry request params or handler results, only
// routing facts, so the log is safe to export wholesale.
package audit

import (
	"context"
	"time"
)

// Status classifies how a command terminated.
type Status string

const (
	StatusOK         Status = "OK"
	StatusAuthFailed Status = "AUTH_FAILED"
	StatusIPBlocked  Status = "IP_BLOCKED"
	StatusBlocked    Status = "BLOCKED"
	StatusError      Status = "ERROR"
	StatusTimeout    Status = "TIMEOUT"
)

// Entry is one audit row. ClientIP is the caller-reported address, recorded
// verbatim and unverified.
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"requestId"`
	ClientIP     string    `json:"clientIp"`
	Service      string    `json:"service"`
	Action       string    `json:"action"`
	Status       Status    `json:"status"`
	DurationMS   int64     `json:"durationMs"`
	ErrorMessage string    `json:"error,omitempty"`
}

// Sink is the storage contract the guarded appender writes through. A sink
// holds one header row plus data rows in append order.
type Sink interface {
	// AppendHeader writes the header row. Called once, on a fresh sink.
	AppendHeader(ctx context.Context) error
	// Append writes one data row after the existing rows.
	Append(ctx context.Context, e Entry) error
	// RowCount reports every row, header included.
	RowCount(ctx context.Context) (int, error)
	// DeleteOldest removes the n oldest data rows. The header stays.
	DeleteOldest(ctx context.Context, n int) error
}

// QueryableSink extends Sink with the read and reset operations the admin
// surface needs. All shipped sinks implement it.
type QueryableSink interface {
	Sink
	// Rows returns the data rows, oldest first.
	Rows(ctx context.Context) ([]Entry, error)
	// Reset removes every row including the header.
	Reset(ctx context.Context) error
}
