// Package firewall screens the caller-reported source address of each
// command: an allow-list of exact IPv4 addresses and CIDR blocks, plus an
// optional reputation lookup against an external scoring provider.
//
// The reported address is not authenticated, so the screen is defense in
// depth against casual misuse rather than an access control.
package firewall

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/config"
)

// ReputationChecker scores an address for abuse likelihood. An error means
// no verdict could be obtained; the caller decides what that implies.
type ReputationChecker interface {
	Score(ctx context.Context, ip, apiKey string) (int, error)
}

// Policy evaluates reported client addresses against the dynamic
// configuration. Allow-list and reputation settings are read per check so
// operators can change them without a restart.
type Policy struct {
	cfg        *config.Config
	reputation ReputationChecker
	logger     *slog.Logger
}

// PolicyOption customizes a Policy.
type PolicyOption func(*Policy)

// WithReputation wires an external reputation provider. Without one the
// reputation layer is skipped even when enabled in config.
func WithReputation(rc ReputationChecker) PolicyOption {
	return func(p *Policy) { p.reputation = rc }
}

// NewPolicy builds an address policy over cfg.
func NewPolicy(cfg *config.Config, opts ...PolicyOption) *Policy {
	p := &Policy{
		cfg:    cfg,
		logger: slog.Default().With("component", "firewall"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check evaluates the reported address. Nil means the request may proceed.
// Empty and "unknown" addresses pass: screening is opportunistic, and many
// callers cannot report an address at all.
func (p *Policy) Check(ctx context.Context, reported string) *api.Error {
	ip := strings.TrimSpace(reported)
	if ip == "" || strings.EqualFold(ip, "unknown") {
		return nil
	}

	if allow := p.cfg.CSV(ctx, config.KeyIPAllowlist); len(allow) > 0 {
		if !Allowed(ip, allow) {
			return api.Errorf(api.CodeIPBlocked, "IP address not in allow-list: %s", ip)
		}
	}

	if p.reputation != nil && p.cfg.Bool(ctx, config.KeyIPCheckEnabled) {
		apiKey, ok := p.cfg.Lookup(ctx, config.KeyIPCheckAPIKey)
		if ok && apiKey != "" {
			score, err := p.reputation.Score(ctx, ip, apiKey)
			switch {
			case err != nil:
				// Advisory layer: a provider outage must not take the
				// gateway down with it.
				p.logger.WarnContext(ctx, "reputation check failed open", "ip", ip, "error", err)
			case score >= p.cfg.Int(ctx, config.KeyIPCheckThreshold):
				return api.Errorf(api.CodeIPBlocked, "IP address flagged by reputation provider: %s (score %d)", ip, score)
			}
		}
	}

	return nil
}

// Allowed reports whether ip matches any allow-list entry. Entries are
// exact IPv4 addresses or CIDR blocks; entries that parse as neither are
// skipped so one typo cannot lock every caller out.
func Allowed(ip string, entries []string) bool {
	addr, ok := parseIPv4(ip)
	if !ok {
		return false
	}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if base, bits, ok := parseCIDR(entry); ok {
			if matchCIDR(addr, base, bits) {
				return true
			}
			continue
		}
		if exact, ok := parseIPv4(entry); ok && exact == addr {
			return true
		}
	}
	return false
}

// ValidEntry reports whether a single allow-list entry would be honored.
// Used by admin mutation so operators learn about typos at write time.
func ValidEntry(entry string) bool {
	entry = strings.TrimSpace(entry)
	if _, _, ok := parseCIDR(entry); ok {
		return true
	}
	_, ok := parseIPv4(entry)
	return ok
}

// parseIPv4 packs a dotted-quad address into a uint32, high octet first.
func parseIPv4(s string) (uint32, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, false
	}
	var addr uint32
	for _, part := range parts {
		if part == "" || len(part) > 3 {
			return 0, false
		}
		n := 0
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, false
			}
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return 0, false
		}
		addr = addr<<8 | uint32(n)
	}
	return addr, true
}

// parseCIDR splits "A.B.C.D/bits" with bits in [0,32].
func parseCIDR(s string) (base uint32, bits int, ok bool) {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return 0, 0, false
	}
	base, ok = parseIPv4(s[:slash])
	if !ok {
		return 0, 0, false
	}
	bits, err := strconv.Atoi(s[slash+1:])
	if err != nil || bits < 0 || bits > 32 {
		return 0, 0, false
	}
	return base, bits, true
}

// matchCIDR applies the mask arithmetic. A zero prefix matches everything,
// keeping the shift inside the word width.
func matchCIDR(addr, base uint32, bits int) bool {
	var mask uint32
	if bits > 0 {
		mask = 0xFFFFFFFF << (32 - bits)
	}
	return addr&mask == base&mask
}
