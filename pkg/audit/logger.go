package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/gangway/pkg/config"
)

// LockTimeout bounds how long one append may wait for the advisory lock
// before the entry is dropped.
const LockTimeout = 5 * time.Second

// Logger is the guarded appender in front of a Sink. Recording never fails
// the command being audited: every problem, from a held lock to a sink
// error, drops the entry with a debug log and nothing else.
type Logger struct {
	cfg         *config.Config
	sink        Sink
	sem         chan struct{}
	lockTimeout time.Duration
	logger      *slog.Logger
	clock       func() time.Time
}

// LoggerOption customizes a Logger.
type LoggerOption func(*Logger)

// WithLockTimeout overrides the advisory-lock acquire timeout.
func WithLockTimeout(d time.Duration) LoggerOption {
	return func(l *Logger) { l.lockTimeout = d }
}

// WithClock fixes the logger's time source.
func WithClock(clock func() time.Time) LoggerOption {
	return func(l *Logger) { l.clock = clock }
}

// NewLogger builds the appender over sink. The advisory lock is an
// in-process semaphore: SQL sinks serialize writes anyway, but the bounded
// acquire keeps one stuck writer from queueing every request behind it.
func NewLogger(cfg *config.Config, sink Sink, opts ...LoggerOption) *Logger {
	l := &Logger{
		cfg:         cfg,
		sink:        sink,
		sem:         make(chan struct{}, 1),
		lockTimeout: LockTimeout,
		logger:      slog.Default().With("component", "audit"),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends one entry. It never returns an error and never panics;
// auditing is best-effort by contract. A fresh sink gets the header row
// first, and after every successful append the rolling bound is enforced:
// at most LOG_MAX_ROWS data rows plus the header survive.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if !l.cfg.Bool(ctx, config.KeyLogEnabled) {
		return
	}

	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock()
	}
	if e.DurationMS < 0 {
		e.DurationMS = 0
	}

	if !l.acquire(ctx) {
		l.logger.DebugContext(ctx, "audit entry dropped: lock acquire timeout", "request_id", e.RequestID)
		return
	}
	defer l.release()

	rows, err := l.sink.RowCount(ctx)
	if err != nil {
		l.logger.DebugContext(ctx, "audit entry dropped: row count failed", "request_id", e.RequestID, "error", err)
		return
	}
	if rows == 0 {
		if err := l.sink.AppendHeader(ctx); err != nil {
			l.logger.DebugContext(ctx, "audit entry dropped: header write failed", "request_id", e.RequestID, "error", err)
			return
		}
	}

	if err := l.sink.Append(ctx, e); err != nil {
		l.logger.DebugContext(ctx, "audit entry dropped: append failed", "request_id", e.RequestID, "error", err)
		return
	}

	l.trim(ctx)
}

// trim enforces the rolling bound. Failures here leave extra rows behind
// until the next successful append retries.
func (l *Logger) trim(ctx context.Context) {
	rows, err := l.sink.RowCount(ctx)
	if err != nil {
		l.logger.DebugContext(ctx, "audit trim skipped: row count failed", "error", err)
		return
	}
	max := l.cfg.Int(ctx, config.KeyLogMaxRows)
	if max < 1 {
		max = 1
	}
	if overflow := rows - max - 1; overflow > 0 {
		if err := l.sink.DeleteOldest(ctx, overflow); err != nil {
			l.logger.DebugContext(ctx, "audit trim skipped: delete failed", "error", err)
		}
	}
}

func (l *Logger) acquire(ctx context.Context) bool {
	timer := time.NewTimer(l.lockTimeout)
	defer timer.Stop()
	select {
	case l.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *Logger) release() { <-l.sem }
