// Package bootstrap implements the one-shot provisioning window.
//
// A fresh deployment accepts a single unauthenticated operation, the
// _init service's setSecret action, and only for a short window after
// first boot. The window is anchored to a deploy stamp written into the
// config store on first boot and only ever compared forward; once the
// window is judged spent a tombstone closes it for good, so a wall-clock
// rollback cannot reopen it.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/config"
)

// ServiceName and ActionSetSecret are the names the gateway short-circuits
// on before authentication.
const (
	ServiceName     = "_init"
	ActionSetSecret = "setSecret"
)

// InitWindow is how long after first boot setSecret is accepted. The
// boundary is inclusive.
const InitWindow = 5 * time.Minute

// MinSecretLength is the floor on a provisioned shared secret.
const MinSecretLength = 32

// Window arbitrates the provisioning window.
type Window struct {
	cfg    *config.Config
	clock  func() time.Time
	logger *slog.Logger
}

// NewWindow wires the window to the config store.
func NewWindow(cfg *config.Config) *Window {
	return &Window{
		cfg:    cfg,
		clock:  time.Now,
		logger: slog.Default().With("component", "bootstrap"),
	}
}

// WithClock fixes the window's time source.
func (w *Window) WithClock(clock func() time.Time) *Window {
	w.clock = clock
	return w
}

// EnsureDeployStamp records the first-boot instant if it is absent. Later
// boots keep the original stamp, so restarting never extends the window.
func (w *Window) EnsureDeployStamp(ctx context.Context) error {
	if _, ok := w.cfg.Lookup(ctx, config.KeyDeployedAt); ok {
		return nil
	}
	stamp := w.clock().UTC().Format(time.RFC3339)
	if err := w.cfg.Set(ctx, config.KeyDeployedAt, stamp); err != nil {
		return fmt.Errorf("bootstrap: record deploy stamp: %w", err)
	}
	w.logger.InfoContext(ctx, "deploy stamp recorded", "deployed_at", stamp)
	return nil
}

// HandleSetSecret services the _init.setSecret action. It admits the call
// only while the deployment is unconfigured and the window is open, and
// rejects secrets shorter than MinSecretLength.
func (w *Window) HandleSetSecret(ctx context.Context, params map[string]any) (any, *api.Error) {
	if w.cfg.Configured(ctx) {
		return nil, api.NewError(api.CodeInitRejected, "already configured")
	}
	if apiErr := w.checkOpen(ctx); apiErr != nil {
		return nil, apiErr
	}

	secret, _ := params["secret"].(string)
	if len(secret) < MinSecretLength {
		return nil, api.Errorf(api.CodeInitRejected, "Secret must be at least %d characters", MinSecretLength)
	}

	if err := w.cfg.Set(ctx, config.KeyJWTSecret, secret); err != nil {
		w.logger.ErrorContext(ctx, "secret provisioning failed", "error", err)
		return nil, api.NewError(api.CodeServiceError, "_init.setSecret failed: could not store secret")
	}
	w.close(ctx)
	w.logger.InfoContext(ctx, "shared secret provisioned")
	return map[string]any{"initialized": true}, nil
}

// checkOpen decides whether the window is still open. Any state it cannot
// trust counts as closed: a missing or garbled deploy stamp, a clock that
// has moved behind the stamp, or an elapsed window.
func (w *Window) checkOpen(ctx context.Context) *api.Error {
	expired := api.NewError(api.CodeInitExpired, "Initialization window has expired")

	if _, closed := w.cfg.Lookup(ctx, config.KeyInitClosed); closed {
		return expired
	}

	stamp, ok := w.cfg.Lookup(ctx, config.KeyDeployedAt)
	if !ok {
		return expired
	}
	deployedAt, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		w.logger.WarnContext(ctx, "deploy stamp unreadable, treating window as closed", "error", err)
		w.close(ctx)
		return expired
	}

	elapsed := w.clock().Sub(deployedAt)
	if elapsed < 0 || elapsed > InitWindow {
		w.close(ctx)
		return expired
	}
	return nil
}

// close writes the tombstone. The deny already stands when this fails, so
// a write error only logs.
func (w *Window) close(ctx context.Context) {
	stamp := w.clock().UTC().Format(time.RFC3339)
	if err := w.cfg.Set(ctx, config.KeyInitClosed, stamp); err != nil {
		w.logger.WarnContext(ctx, "init tombstone write failed", "error", err)
	}
}
