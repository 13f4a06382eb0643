package guardian

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/audit"
	"github.com/Mindburn-Labs/gangway/pkg/config"
)

// Recorder receives an audit entry for every withheld item. The gateway's
// audit logger satisfies this.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// Interceptor applies the configured filter to mail flowing through the
// gateway. The filter is rebuilt only when the backing configuration
// changes, so hot paths pay one config read and a key comparison.
type Interceptor struct {
	cfg      *config.Config
	recorder Recorder
	logger   *slog.Logger

	mu        sync.Mutex
	cached    *Filter
	cachedKey string
}

// NewInterceptor wires the interceptor to live configuration and an audit
// recorder. A nil recorder disables the audit trail but not the filtering.
func NewInterceptor(cfg *config.Config, rec Recorder) *Interceptor {
	return &Interceptor{
		cfg:      cfg,
		recorder: rec,
		logger:   slog.Default().With("component", "guardian"),
	}
}

// FilterList returns the messages that survive the filter. Each withheld
// message is audited; the caller never learns it existed.
func (i *Interceptor) FilterList(ctx context.Context, origin string, msgs []Message) []Message {
	f := i.filter(ctx)
	kept := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if f.Sensitive(m) {
			i.audit(ctx, origin, m.ID)
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// CheckMessage refuses access to a flagged message. The returned error is
// a FORBIDDEN in the gateway's taxonomy; the response body never names the
// matched rule.
func (i *Interceptor) CheckMessage(ctx context.Context, origin string, m Message) *api.Error {
	if !i.filter(ctx).Sensitive(m) {
		return nil
	}
	i.audit(ctx, origin, m.ID)
	return api.NewError(api.CodeForbidden, "Access to message is blocked by security policy")
}

// CheckThread refuses access to a thread when any message in it is
// flagged. One tainted message withholds the whole conversation.
func (i *Interceptor) CheckThread(ctx context.Context, origin string, msgs []Message) *api.Error {
	f := i.filter(ctx)
	for _, m := range msgs {
		if f.Sensitive(m) {
			i.audit(ctx, origin, m.ID)
			return api.NewError(api.CodeForbidden, "Access to message is blocked by security policy")
		}
	}
	return nil
}

// filter returns the current Filter, rebuilding it when the sender list
// or pattern in configuration has changed. An invalid pattern logs a
// warning and the sender list is enforced alone.
func (i *Interceptor) filter(ctx context.Context) *Filter {
	senders := i.cfg.CSV(ctx, config.KeyBlockedSenders)
	pattern := i.cfg.Value(ctx, config.KeyContentRegex)
	key := strings.Join(senders, ",") + "\x00" + pattern

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cached != nil && i.cachedKey == key {
		return i.cached
	}

	f, err := NewFilter(senders, pattern)
	if err != nil {
		i.logger.WarnContext(ctx, "content pattern invalid, enforcing sender list only", "error", err)
		f, _ = NewFilter(senders, "")
	}
	i.cached = f
	i.cachedKey = key
	return f
}

// audit records a withheld item. The entry carries the identifier only,
// never the content that tripped the filter.
func (i *Interceptor) audit(ctx context.Context, origin, id string) {
	if i.recorder == nil {
		return
	}
	i.recorder.Record(ctx, audit.Entry{
		RequestID:    api.GetRequestID(ctx),
		Service:      "mail",
		Action:       "security_intercept:" + origin,
		Status:       audit.StatusBlocked,
		ErrorMessage: fmt.Sprintf("message %s withheld by security filter", id),
	})
}
