package audit

import (
	"context"
	"sync"
)

// MemorySink keeps rows in process memory. Used by tests and by deployments
// that explicitly run without persistence.
type MemorySink struct {
	mu     sync.Mutex
	header bool
	rows   []Entry
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) AppendHeader(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header = true
	return nil
}

func (m *MemorySink) Append(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, e)
	return nil
}

func (m *MemorySink) RowCount(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.rows)
	if m.header {
		n++
	}
	return n, nil
}

func (m *MemorySink) DeleteOldest(_ context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n >= len(m.rows) {
		m.rows = nil
		return nil
	}
	m.rows = append([]Entry(nil), m.rows[n:]...)
	return nil
}

func (m *MemorySink) Rows(context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.rows...), nil
}

func (m *MemorySink) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header = false
	m.rows = nil
	return nil
}
