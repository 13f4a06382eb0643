package mail

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/dispatch"
	"github.com/Mindburn-Labs/gangway/pkg/guardian"
)

// Result list ceiling and default, applied to list and search.
const (
	maxResults     = 100
	defaultResults = 25
)

// Handler drives a Mailbox through the dispatcher contract.
type Handler struct {
	box   Mailbox
	guard *guardian.Interceptor
}

// NewHandler wraps a mailbox. guard may be nil, which disables screening;
// the gateway always passes one.
func NewHandler(box Mailbox, guard *guardian.Interceptor) *Handler {
	return &Handler{box: box, guard: guard}
}

// Actions lists the verbs the handler accepts.
func (h *Handler) Actions() []string {
	return []string{"list", "search", "get", "send", "label", "star", "archive", "trash", "delete"}
}

// Handle routes one action. Typed errors keep their code through the
// dispatcher; everything else surfaces as a service error.
func (h *Handler) Handle(ctx context.Context, action string, params map[string]any) (any, error) {
	switch action {
	case "list":
		return h.list(ctx, params)
	case "search":
		return h.search(ctx, params)
	case "get":
		return h.get(ctx, params)
	case "send":
		return h.send(ctx, params)
	case "label":
		return h.label(ctx, params)
	case "star":
		return h.star(ctx, params)
	case "archive":
		return h.mutate(ctx, "archive", params, h.box.Archive, "archived")
	case "trash":
		return h.mutate(ctx, "trash", params, h.box.Trash, "trashed")
	case "delete":
		return h.mutate(ctx, "delete", params, h.box.Delete, "deleted")
	default:
		return nil, api.Errorf(api.CodeNotFound, "Unknown action: mail.%s", action)
	}
}

func (h *Handler) list(ctx context.Context, params map[string]any) (any, error) {
	max := dispatch.ClampInt(params, "max", defaultResults, maxResults)
	msgs, err := h.box.List(ctx, max)
	if err != nil {
		return nil, err
	}
	msgs = h.screen(ctx, "list", msgs)
	return map[string]any{"messages": msgs, "count": len(msgs)}, nil
}

func (h *Handler) search(ctx context.Context, params map[string]any) (any, error) {
	if apiErr := dispatch.RequireParams(params, "query"); apiErr != nil {
		return nil, apiErr
	}
	max := dispatch.ClampInt(params, "max", defaultResults, maxResults)
	msgs, err := h.box.Search(ctx, dispatch.StringParam(params, "query"), max)
	if err != nil {
		return nil, err
	}
	msgs = h.screen(ctx, "search", msgs)
	return map[string]any{"messages": msgs, "count": len(msgs)}, nil
}

func (h *Handler) get(ctx context.Context, params map[string]any) (any, error) {
	m, apiErr, err := h.fetch(ctx, "get", params)
	if apiErr != nil || err != nil {
		return nil, firstError(apiErr, err)
	}

	// A clean message in a tainted thread stays withheld: one flagged
	// sibling closes the whole conversation.
	if h.guard != nil && m.ThreadID != "" {
		thread, err := h.box.Thread(ctx, m.ThreadID)
		if err != nil {
			return nil, err
		}
		shapes := make([]guardian.Message, len(thread))
		for i, tm := range thread {
			shapes[i] = tm.screened()
		}
		if apiErr := h.guard.CheckThread(ctx, "get", shapes); apiErr != nil {
			return nil, apiErr
		}
	}
	return map[string]any{"message": m}, nil
}

func (h *Handler) send(ctx context.Context, params map[string]any) (any, error) {
	if apiErr := dispatch.RequireParams(params, "to", "subject"); apiErr != nil {
		return nil, apiErr
	}
	id, err := h.box.Send(ctx,
		dispatch.StringParam(params, "to"),
		dispatch.StringParam(params, "subject"),
		dispatch.StringParam(params, "body"),
	)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": id, "sent": true}, nil
}

func (h *Handler) label(ctx context.Context, params map[string]any) (any, error) {
	if apiErr := dispatch.RequireParams(params, "id", "label"); apiErr != nil {
		return nil, apiErr
	}
	m, apiErr, err := h.fetch(ctx, "label", params)
	if apiErr != nil || err != nil {
		return nil, firstError(apiErr, err)
	}

	add := dispatch.BoolParam(params, "add", true)
	if err := h.box.Label(ctx, m.ID, dispatch.StringParam(params, "label"), add); err != nil {
		return nil, err
	}
	return map[string]any{"id": m.ID, "label": dispatch.StringParam(params, "label"), "applied": add}, nil
}

func (h *Handler) star(ctx context.Context, params map[string]any) (any, error) {
	m, apiErr, err := h.fetch(ctx, "star", params)
	if apiErr != nil || err != nil {
		return nil, firstError(apiErr, err)
	}

	starred := dispatch.BoolParam(params, "starred", true)
	if err := h.box.Star(ctx, m.ID, starred); err != nil {
		return nil, err
	}
	return map[string]any{"id": m.ID, "starred": starred}, nil
}

// mutate covers the verbs that only need an id: fetch, screen, apply.
func (h *Handler) mutate(ctx context.Context, origin string, params map[string]any, op func(context.Context, string) error, verb string) (any, error) {
	m, apiErr, err := h.fetch(ctx, origin, params)
	if apiErr != nil || err != nil {
		return nil, firstError(apiErr, err)
	}
	if err := op(ctx, m.ID); err != nil {
		return nil, err
	}
	return map[string]any{"id": m.ID, verb: true}, nil
}

// fetch resolves params.id and screens the message for the given origin
// action. Reads and mutations share it so a flagged message is refused
// uniformly.
func (h *Handler) fetch(ctx context.Context, origin string, params map[string]any) (Message, *api.Error, error) {
	if apiErr := dispatch.RequireParams(params, "id"); apiErr != nil {
		return Message{}, apiErr, nil
	}
	id := dispatch.StringParam(params, "id")

	m, err := h.box.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Message{}, api.Errorf(api.CodeNotFound, "Message not found: %s", id), nil
	}
	if err != nil {
		return Message{}, nil, err
	}

	if h.guard != nil {
		if apiErr := h.guard.CheckMessage(ctx, origin, m.screened()); apiErr != nil {
			return Message{}, apiErr, nil
		}
	}
	return m, nil, nil
}

// screen filters a listing through the interceptor, preserving the full
// message shapes of the survivors.
func (h *Handler) screen(ctx context.Context, origin string, msgs []Message) []Message {
	if h.guard == nil {
		return msgs
	}
	shapes := make([]guardian.Message, len(msgs))
	for i, m := range msgs {
		shapes[i] = m.screened()
	}
	kept := h.guard.FilterList(ctx, origin, shapes)

	keptIDs := make(map[string]struct{}, len(kept))
	for _, m := range kept {
		keptIDs[m.ID] = struct{}{}
	}
	out := make([]Message, 0, len(kept))
	for _, m := range msgs {
		if _, ok := keptIDs[m.ID]; ok {
			out = append(out, m)
		}
	}
	return out
}

// firstError keeps the typed error when there is one. Returning a nil
// *api.Error as a plain error would make it non-nil, so the split stays
// explicit.
func firstError(apiErr *api.Error, err error) error {
	if apiErr != nil {
		return apiErr
	}
	return err
}
