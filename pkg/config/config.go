package config

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
)

// Known dynamic configuration keys.
const (
	KeyJWTSecret        = "JWT_SECRET"
	KeyLogEnabled       = "LOG_ENABLED"
	KeyLogSinkID        = "LOG_SINK_ID"
	KeyLogMaxRows       = "LOG_MAX_ROWS"
	KeyIPAllowlist      = "IP_ALLOWLIST"
	KeyIPCheckEnabled   = "IP_CHECK_ENABLED"
	KeyIPCheckAPIKey    = "IP_CHECK_API_KEY"
	KeyIPCheckThreshold = "IP_CHECK_THRESHOLD"
	KeyBlockedSenders   = "SECURITY_BLOCKED_SENDERS"
	KeyContentRegex     = "SECURITY_CONTENT_REGEX"
	KeyPolicyRule       = "POLICY_RULE"
	KeyExportBucket     = "EXPORT_BUCKET"
	KeyMinClientVersion = "MIN_CLIENT_VERSION"

	// KeyDeployedAt records the first-boot instant for the init window. It
	// is written once and only ever compared forward.
	KeyDeployedAt = "_DEPLOYED_AT"

	// KeyInitClosed marks the init window as spent. Once written the window
	// never reopens, whatever the wall clock says.
	KeyInitClosed = "_INIT_CLOSED"
)

// DefaultBlockedSenders ships as an example policy: account-recovery and
// no-reply origins an automated caller has no business reading. Operators
// override it per deployment.
const DefaultBlockedSenders = "no-reply@accounts.google.com," +
	"noreply@google.com," +
	"account-security-noreply@accountprotection.microsoft.com," +
	"no-reply@appleid.apple.com," +
	"password-reset," +
	"account-recovery"

// DefaultContentRegex flags credential and one-time-code language. Like the
// sender list, the pattern is an example; the match semantics are fixed.
const DefaultContentRegex = `(?:verification code|one[- ]time (?:code|password)|security code|password reset|reset your password|2fa|one-time passcode|login code)`

// defaults maps known keys to the value used when the store has no entry.
var defaults = map[string]string{
	KeyLogEnabled:       "true",
	KeyLogMaxRows:       "5000",
	KeyIPAllowlist:      "",
	KeyIPCheckEnabled:   "false",
	KeyIPCheckThreshold: "50",
	KeyBlockedSenders:   DefaultBlockedSenders,
	KeyContentRegex:     DefaultContentRegex,
}

// sensitiveKeys are redacted on echo and sealed at rest.
var sensitiveKeys = map[string]bool{
	KeyJWTSecret:     true,
	KeyIPCheckAPIKey: true,
}

// redactMask replaces everything but the last four characters of a sensitive
// value.
const redactMask = "********"

// IsSensitive reports whether a key's value must never be echoed in full.
func IsSensitive(key string) bool { return sensitiveKeys[key] }

// Redact masks a sensitive value, preserving the last four characters when
// the value is long enough to keep that safe.
func Redact(value string) string {
	if len(value) <= 4 {
		return redactMask
	}
	return redactMask + value[len(value)-4:]
}

// Config is the total-lookup facade over a Store: reads never fail, sensitive
// values are sealed on write and unsealed on read, defaults apply per key.
type Config struct {
	store  Store
	sealer *Sealer
	logger *slog.Logger
}

// Option configures the facade.
type Option func(*Config)

// WithSealer enables encryption at rest for sensitive keys.
func WithSealer(s *Sealer) Option {
	return func(c *Config) { c.sealer = s }
}

// New wraps a Store in the lookup facade.
func New(store Store, opts ...Option) *Config {
	c := &Config{
		store:  store,
		logger: slog.Default().With("component", "config"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the stored value for key and whether it was present. Store
// and unseal failures degrade to absent with a warning; lookup is total.
func (c *Config) Lookup(ctx context.Context, key string) (string, bool) {
	stored, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "config read failed", "key", key, "error", err)
		return "", false
	}

	if c.sealer != nil || IsSealed(stored) {
		if c.sealer == nil {
			c.logger.WarnContext(ctx, "sealed value but no master key", "key", key)
			return "", false
		}
		opened, err := c.sealer.Open(key, stored)
		if err != nil {
			c.logger.WarnContext(ctx, "config unseal failed", "key", key, "error", err)
			return "", false
		}
		return opened, true
	}
	return stored, true
}

// Value returns the effective value for key: the stored value, or the key's
// declared default, or empty.
func (c *Config) Value(ctx context.Context, key string) string {
	if v, ok := c.Lookup(ctx, key); ok {
		return v
	}
	return defaults[key]
}

// Bool interprets the effective value as a boolean. Anything but "true"
// (case-insensitive) is false.
func (c *Config) Bool(ctx context.Context, key string) bool {
	return strings.EqualFold(c.Value(ctx, key), "true")
}

// Int interprets the effective value as an integer, falling back to the
// key's default (then zero) on garbage.
func (c *Config) Int(ctx context.Context, key string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(c.Value(ctx, key))); err == nil {
		return n
	}
	if n, err := strconv.Atoi(defaults[key]); err == nil {
		return n
	}
	return 0
}

// CSV splits the effective value on commas, trimming whitespace and dropping
// empty entries.
func (c *Config) CSV(ctx context.Context, key string) []string {
	raw := c.Value(ctx, key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Set writes a value, sealing it first when the key is sensitive and a
// master key is configured.
func (c *Config) Set(ctx context.Context, key, value string) error {
	if IsSensitive(key) && c.sealer != nil {
		sealed, err := c.sealer.Seal(key, value)
		if err != nil {
			return err
		}
		value = sealed
	}
	return c.store.Set(ctx, key, value)
}

// Delete removes a key.
func (c *Config) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Configured reports whether the shared secret has been provisioned.
func (c *Config) Configured(ctx context.Context) bool {
	v, ok := c.Lookup(ctx, KeyJWTSecret)
	return ok && v != ""
}

// Snapshot returns the effective configuration for echoing back to an
// operator: known-key defaults merged under stored values, sensitive values
// redacted, internal bookkeeping keys skipped. Sealed values that cannot be
// opened show as the bare mask.
func (c *Config) Snapshot(ctx context.Context) (map[string]string, error) {
	stored, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(stored)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range stored {
		if strings.HasPrefix(k, "_") {
			continue
		}
		if IsSensitive(k) {
			if opened, ok := c.Lookup(ctx, k); ok {
				out[k] = Redact(opened)
			} else {
				out[k] = redactMask
			}
			continue
		}
		out[k] = v
	}
	return out, nil
}
