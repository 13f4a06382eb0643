package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect selects the placeholder style and DDL quirks of the backing
// database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore is the SQL-backed implementation of Store. It works against
// modernc.org/sqlite (lite mode) and lib/pq (DATABASE_URL mode) with the
// same statements.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore creates the store and applies its migration.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS gateway_config (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("config: migrate: %w", err)
	}
	return nil
}

// rebind converts ?-style placeholders to the dialect's native form.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
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

func (s *SQLStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT value FROM gateway_config WHERE key = ?`), key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("config: get %q: %w", key, err)
	}
	return value, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO gateway_config (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`), key, value, now)
	if err != nil {
		return fmt.Errorf("config: set %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM gateway_config WHERE key = ?`), key)
	if err != nil {
		return fmt.Errorf("config: delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) List(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM gateway_config ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("config: list: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("config: list scan: %w", err)
		}
		result[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("config: list rows: %w", err)
	}
	return result, nil
}
