package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/gangway/pkg/config"
)

// headerSeq is the sequence number reserved for the header marker row, so
// row arithmetic over the table matches the sink contract exactly.
const headerSeq = 0

// SQLSink stores rows in the gateway_audit table, keyed by sink id so
// several logical logs can share one database. Works against
// modernc.org/sqlite (lite mode) and lib/pq (DATABASE_URL mode) with the
// same statements.
type SQLSink struct {
	db      *sql.DB
	dialect config.Dialect
	sinkID  string
}

// NewSQLSink creates the sink and applies its migration.
func NewSQLSink(db *sql.DB, dialect config.Dialect, sinkID string) (*SQLSink, error) {
	if sinkID == "" {
		sinkID = "default"
	}
	s := &SQLSink{db: db, dialect: dialect, sinkID: sinkID}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS gateway_audit (
		sink_id       TEXT   NOT NULL,
		seq           BIGINT NOT NULL,
		ts            TEXT   NOT NULL,
		request_id    TEXT   NOT NULL,
		client_ip     TEXT   NOT NULL,
		service       TEXT   NOT NULL,
		action        TEXT   NOT NULL,
		status        TEXT   NOT NULL,
		duration_ms   BIGINT NOT NULL,
		error_message TEXT,
		PRIMARY KEY (sink_id, seq)
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("audit: migrate: %w", err)
	}
	return nil
}

// rebind converts ?-style placeholders to the dialect's native form.
func (s *SQLSink) rebind(query string) string {
	if s.dialect != config.DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLSink) AppendHeader(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO gateway_audit
			(sink_id, seq, ts, request_id, client_ip, service, action, status, duration_ms, error_message)
		VALUES (?, ?, ?, 'requestId', 'clientIp', 'service', 'action', 'status', 0, NULL)
	`), s.sinkID, headerSeq, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("audit: append header: %w", err)
	}
	return nil
}

func (s *SQLSink) Append(ctx context.Context, e Entry) error {
	// MAX(seq)+1 under the appender's advisory lock; no in-process race,
	// and the primary key rejects a cross-process collision.
	var next int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COALESCE(MAX(seq), 0) + 1 FROM gateway_audit WHERE sink_id = ?`), s.sinkID,
	).Scan(&next)
	if err != nil {
		return fmt.Errorf("audit: append seq: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO gateway_audit
			(sink_id, seq, ts, request_id, client_ip, service, action, status, duration_ms, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`),
		s.sinkID,
		next,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.RequestID,
		e.ClientIP,
		e.Service,
		e.Action,
		string(e.Status),
		e.DurationMS,
		nullable(e.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}

func (s *SQLSink) RowCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM gateway_audit WHERE sink_id = ?`), s.sinkID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("audit: row count: %w", err)
	}
	return n, nil
}

func (s *SQLSink) DeleteOldest(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM gateway_audit
		WHERE sink_id = ? AND seq IN (
			SELECT seq FROM gateway_audit
			WHERE sink_id = ? AND seq > ?
			ORDER BY seq ASC
			LIMIT ?
		)
	`), s.sinkID, s.sinkID, headerSeq, n)
	if err != nil {
		return fmt.Errorf("audit: delete oldest: %w", err)
	}
	return nil
}

func (s *SQLSink) Rows(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT ts, request_id, client_ip, service, action, status, duration_ms, error_message
		FROM gateway_audit
		WHERE sink_id = ? AND seq > ?
		ORDER BY seq ASC
	`), s.sinkID, headerSeq)
	if err != nil {
		return nil, fmt.Errorf("audit: rows: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			ts     string
			status string
			errMsg sql.NullString
		)
		if err := rows.Scan(&ts, &e.RequestID, &e.ClientIP, &e.Service, &e.Action, &status, &e.DurationMS, &errMsg); err != nil {
			return nil, fmt.Errorf("audit: rows scan: %w", err)
		}
		e.Timestamp = parseTime(ts)
		e.Status = Status(status)
		e.ErrorMessage = errMsg.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: rows iterate: %w", err)
	}
	return out, nil
}

func (s *SQLSink) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM gateway_audit WHERE sink_id = ?`), s.sinkID)
	if err != nil {
		return fmt.Errorf("audit: reset: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}
