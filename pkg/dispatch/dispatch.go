package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/observability"
)

// Dispatcher resolves and invokes handlers, mapping every failure into the
// closed error-code set.
type Dispatcher struct {
	registry *Registry
	obs      *observability.Provider
	schemas  map[string]*jsonschema.Schema
	logger   *slog.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithObservability attaches spans and RED metrics to each dispatch.
func WithObservability(p *observability.Provider) Option {
	return func(d *Dispatcher) { d.obs = p }
}

// NewDispatcher builds a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		schemas:  make(map[string]*jsonschema.Schema),
		logger:   slog.Default().With("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// RegisterSchema compiles and attaches a params JSON Schema for one
// service action. Called during startup wiring, before traffic.
func (d *Dispatcher) RegisterSchema(service, action, schema string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://gangway.schemas.local/%s/%s.schema.json", service, action)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("dispatch: schema load %s.%s: %w", service, action, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("dispatch: schema compile %s.%s: %w", service, action, err)
	}
	d.schemas[schemaKey(service, action)] = compiled
	return nil
}

// Dispatch routes one command. A nil *api.Error means result carries the
// handler's payload; otherwise the error is ready for the failure envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, service, action string, params map[string]any) (any, *api.Error) {
	if d.obs == nil {
		return d.dispatch(ctx, service, action, params)
	}

	opCtx, finish := d.obs.TrackOperation(ctx, "gateway.dispatch",
		observability.DispatchOperation(strings.ToLower(strings.TrimSpace(service)), strings.TrimSpace(action), ParamsDigest(params))...,
	)
	result, derr := d.dispatch(opCtx, service, action, params)
	finish(errOrNil(derr))
	return result, derr
}

func (d *Dispatcher) dispatch(ctx context.Context, service, action string, params map[string]any) (any, *api.Error) {
	service = strings.TrimSpace(service)
	action = strings.TrimSpace(action)
	if service == "" || action == "" {
		return nil, api.NewError(api.CodeInvalidRequest, "Missing service or action")
	}

	h, ok := d.registry.Resolve(service)
	if !ok {
		return nil, api.Errorf(api.CodeNotFound, "Unknown service: %s", service)
	}

	if params == nil {
		params = map[string]any{}
	}

	if schema, ok := d.schemas[schemaKey(service, action)]; ok {
		if err := schema.Validate(params); err != nil {
			return nil, api.Errorf(api.CodeInvalidRequest, "Invalid params for %s.%s: %v", service, action, err)
		}
	}

	result, err := d.invoke(ctx, h, action, params)
	if err != nil {
		return nil, d.mapError(service, action, err)
	}
	return result, nil
}

// invoke is the pipeline's single panic trap.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, action string, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "handler panic recovered", "action", action, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, action, params)
}

// mapError turns a handler error into an envelope error. Typed errors pass
// through so handlers can return FORBIDDEN, NOT_FOUND, or INVALID_REQUEST
// as values; everything else is a service failure, with quota exhaustion
// recognized by message.
func (d *Dispatcher) mapError(service, action string, err error) *api.Error {
	var typed *api.Error
	if errors.As(err, &typed) {
		return typed
	}
	if strings.Contains(strings.ToLower(err.Error()), "quota") {
		return api.NewError(api.CodeQuotaExceeded, err.Error())
	}
	return api.Errorf(api.CodeServiceError, "%s.%s failed: %v", strings.ToLower(service), action, err)
}

func schemaKey(service, action string) string {
	return strings.ToLower(strings.TrimSpace(service)) + "." + strings.ToLower(strings.TrimSpace(action))
}

func errOrNil(e *api.Error) error {
	if e == nil {
		return nil
	}
	return e
}
