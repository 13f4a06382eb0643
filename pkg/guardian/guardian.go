// Package guardian screens mail content before it leaves the gateway.
//
// The guardian sits between the mail service and the caller: list results
// are filtered, direct reads of a flagged message are refused, and every
// withheld item leaves an audit entry. Matching is fold-insensitive on the
// sender address and regex-based on the subject plus the leading window of
// the body, so a hostile client cannot page security notices out of a
// mailbox through the gateway.
package guardian

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// bodyWindow caps how much of a message body the content pattern scans.
const bodyWindow = 500

// Message is the minimal mail shape the guardian inspects.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId,omitempty"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Body     string `json:"body,omitempty"`
}

// Filter decides whether a message is sensitive. A zero Filter matches
// nothing; build one with NewFilter.
type Filter struct {
	senders []string
	pattern *regexp.Regexp
}

// NewFilter builds a Filter from a sender substring list and an optional
// content pattern. The pattern compiles case-insensitively; a bad pattern
// is an error so the caller decides whether to fail open.
func NewFilter(senders []string, pattern string) (*Filter, error) {
	f := &Filter{}
	for _, s := range senders {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		f.senders = append(f.senders, fold(s))
	}
	if pattern = strings.TrimSpace(pattern); pattern != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("guardian: compile content pattern: %w", err)
		}
		f.pattern = re
	}
	return f, nil
}

// Sensitive reports whether m trips the sender list or the content pattern.
func (f *Filter) Sensitive(m Message) bool {
	if len(f.senders) > 0 {
		from := fold(m.From)
		for _, s := range f.senders {
			if strings.Contains(from, s) {
				return true
			}
		}
	}
	if f.pattern != nil {
		if f.pattern.MatchString(m.Subject) {
			return true
		}
		body := m.Body
		if runes := []rune(body); len(runes) > bodyWindow {
			body = string(runes[:bodyWindow])
		}
		if f.pattern.MatchString(body) {
			return true
		}
	}
	return false
}

// ThreadSensitive reports whether any message in the thread is sensitive.
// One tainted message withholds the whole thread.
func (f *Filter) ThreadSensitive(msgs []Message) bool {
	for _, m := range msgs {
		if f.Sensitive(m) {
			return true
		}
	}
	return false
}

// fold lowercases for caseless matching. A Caser is stateful, so each call
// builds its own.
func fold(s string) string {
	return cases.Fold().String(s)
}
