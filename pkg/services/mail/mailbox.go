// Package mail exposes a mailbox through the dispatcher, with the content
// filter woven through every action: listings are screened, reads of a
// flagged message are refused, and a mutation aimed at one is refused too.
package mail

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/gangway/pkg/guardian"
)

// ErrNotFound reports a message id with nothing behind it.
var ErrNotFound = errors.New("mail: message not found")

// Message is the gateway's mail shape. Upstream adapters map their
// provider's model onto it.
type Message struct {
	ID       string    `json:"id"`
	ThreadID string    `json:"threadId,omitempty"`
	From     string    `json:"from"`
	To       string    `json:"to,omitempty"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body,omitempty"`
	Labels   []string  `json:"labels,omitempty"`
	Starred  bool      `json:"starred,omitempty"`
	Unread   bool      `json:"unread,omitempty"`
	Date     time.Time `json:"date"`
}

// screened projects the fields the content filter inspects.
func (m Message) screened() guardian.Message {
	return guardian.Message{
		ID:       m.ID,
		ThreadID: m.ThreadID,
		From:     m.From,
		Subject:  m.Subject,
		Body:     m.Body,
	}
}

// Mailbox is the upstream adapter the service drives. Errors other than
// ErrNotFound surface to callers as service errors.
type Mailbox interface {
	List(ctx context.Context, max int) ([]Message, error)
	Search(ctx context.Context, query string, max int) ([]Message, error)
	Get(ctx context.Context, id string) (Message, error)
	Thread(ctx context.Context, threadID string) ([]Message, error)
	Send(ctx context.Context, to, subject, body string) (string, error)
	Label(ctx context.Context, id, label string, add bool) error
	Star(ctx context.Context, id string, starred bool) error
	Archive(ctx context.Context, id string) error
	Trash(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
