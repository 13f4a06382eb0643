package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// pluginRequest is the envelope written to a module's stdin.
type pluginRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// PluginHandler adapts a Runner to the dispatcher's handler contract.
// Whatever JSON the module prints becomes the response data.
type PluginHandler struct {
	service string
	runner  Runner
	logger  *slog.Logger
}

// NewPluginHandler names a runner as a service.
func NewPluginHandler(service string, runner Runner) *PluginHandler {
	return &PluginHandler{
		service: service,
		runner:  runner,
		logger:  slog.Default().With("component", "sandbox", "plugin", service),
	}
}

// Service returns the service name the handler was loaded under.
func (h *PluginHandler) Service() string { return h.service }

// Actions returns nil: a plugin decides its own action set at runtime.
func (h *PluginHandler) Actions() []string { return nil }

// Handle runs one plugin call. Errors come back plain; the dispatcher owns
// mapping them into the response taxonomy.
func (h *PluginHandler) Handle(ctx context.Context, action string, params map[string]any) (any, error) {
	input, err := json.Marshal(pluginRequest{Action: action, Params: params})
	if err != nil {
		return nil, fmt.Errorf("plugin %s: encode request: %w", h.service, err)
	}

	out, err := h.runner.Run(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", h.service, err)
	}

	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return map[string]any{}, nil
	}
	var result any
	if err := json.Unmarshal(out, &result); err != nil {
		h.logger.WarnContext(ctx, "plugin produced non-JSON output", "action", action)
		return nil, fmt.Errorf("plugin %s: malformed output: %w", h.service, err)
	}
	return result, nil
}

// Close releases the underlying runner.
func (h *PluginHandler) Close(ctx context.Context) error {
	return h.runner.Close(ctx)
}
