package mail

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
)

// Well-known labels the in-memory mailbox models.
const (
	LabelInbox = "INBOX"
	LabelTrash = "TRASH"
)

// MemoryMailbox is an in-memory Mailbox for demos and tests. Listings are
// newest-first; trashed messages stay fetchable by id but drop out of
// list and search.
type MemoryMailbox struct {
	mu   sync.RWMutex
	msgs []Message
	sent int
}

// NewMemoryMailbox seeds the store. Seed messages without labels land in
// the inbox.
func NewMemoryMailbox(seed ...Message) *MemoryMailbox {
	box := &MemoryMailbox{msgs: make([]Message, 0, len(seed))}
	for _, m := range seed {
		if len(m.Labels) == 0 {
			m.Labels = []string{LabelInbox}
		}
		box.msgs = append(box.msgs, m)
	}
	return box
}

func (b *MemoryMailbox) List(_ context.Context, max int) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Message, 0, max)
	for i := len(b.msgs) - 1; i >= 0 && len(out) < max; i-- {
		if slices.Contains(b.msgs[i].Labels, LabelTrash) {
			continue
		}
		out = append(out, b.msgs[i])
	}
	return out, nil
}

func (b *MemoryMailbox) Search(_ context.Context, query string, max int) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q := cases.Fold().String(query)
	out := make([]Message, 0, max)
	for i := len(b.msgs) - 1; i >= 0 && len(out) < max; i-- {
		m := b.msgs[i]
		if slices.Contains(m.Labels, LabelTrash) {
			continue
		}
		hay := cases.Fold().String(strings.Join([]string{m.From, m.To, m.Subject, m.Body}, "\n"))
		if strings.Contains(hay, q) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *MemoryMailbox) Get(_ context.Context, id string) (Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if i := b.index(id); i >= 0 {
		return b.msgs[i], nil
	}
	return Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (b *MemoryMailbox) Thread(_ context.Context, threadID string) ([]Message, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Message
	for _, m := range b.msgs {
		if m.ThreadID == threadID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (b *MemoryMailbox) Send(_ context.Context, to, subject, body string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sent++
	id := fmt.Sprintf("sent-%03d", b.sent)
	b.msgs = append(b.msgs, Message{
		ID:      id,
		From:    "me",
		To:      to,
		Subject: subject,
		Body:    body,
		Labels:  []string{"SENT"},
		Date:    time.Now().UTC(),
	})
	return id, nil
}

func (b *MemoryMailbox) Label(_ context.Context, id, label string, add bool) error {
	return b.update(id, func(m *Message) {
		if add {
			if !slices.Contains(m.Labels, label) {
				m.Labels = append(m.Labels, label)
			}
			return
		}
		m.Labels = slices.DeleteFunc(m.Labels, func(l string) bool { return l == label })
	})
}

func (b *MemoryMailbox) Star(_ context.Context, id string, starred bool) error {
	return b.update(id, func(m *Message) { m.Starred = starred })
}

func (b *MemoryMailbox) Archive(_ context.Context, id string) error {
	return b.update(id, func(m *Message) {
		m.Labels = slices.DeleteFunc(m.Labels, func(l string) bool { return l == LabelInbox })
	})
}

func (b *MemoryMailbox) Trash(_ context.Context, id string) error {
	return b.update(id, func(m *Message) {
		if !slices.Contains(m.Labels, LabelTrash) {
			m.Labels = append(m.Labels, LabelTrash)
		}
	})
}

func (b *MemoryMailbox) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	b.msgs = slices.Delete(b.msgs, i, i+1)
	return nil
}

func (b *MemoryMailbox) update(id string, apply func(*Message)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	apply(&b.msgs[i])
	return nil
}

// index returns the position of id, or -1. Callers hold the lock.
func (b *MemoryMailbox) index(id string) int {
	for i, m := range b.msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}
