// Package auth verifies the shared-secret bearer tokens that authorize
// gateway commands: HS256 signature, bounded clock skew, and replay
// protection over the token's unique identifier.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ClockSkew is the only tolerated clock drift between issuer and
	// gateway, applied symmetrically to exp and iat.
	ClockSkew = 30 * time.Second

	// MaxTokenLifetime caps how long a token's jti is remembered. Tokens
	// should not outlive it.
	MaxTokenLifetime = 300 * time.Second
)

// SecretSource supplies the current shared secret. The secret can appear at
// runtime (init window), so it is read per verification, not captured at
// construction.
type SecretSource func(ctx context.Context) (string, bool)

// Claims carries the token claims the pipeline inspects. Raw preserves the
// full claim set for downstream policy evaluation.
type Claims struct {
	Subject   string
	TokenID   string
	IssuedAt  *int64
	ExpiresAt *int64
	Raw       map[string]any
}

// Verifier checks bearer tokens. All failures are final (non-retryable) and
// intentionally descriptive: the caller holds the secret already, so reasons
// leak nothing.
type Verifier struct {
	secret SecretSource
	replay ReplayCache
	clock  func() time.Time
}

// NewVerifier builds a Verifier. replay may be nil to disable replay
// protection (tokens without jti are unprotected regardless).
func NewVerifier(secret SecretSource, replay ReplayCache) *Verifier {
	return &Verifier{
		secret: secret,
		replay: replay,
		clock:  time.Now,
	}
}

// WithClock fixes the verifier's time source.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	v.clock = clock
	return v
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type tokenClaims struct {
	Iat *float64 `json:"iat"`
	Exp *float64 `json:"exp"`
	Jti string   `json:"jti"`
	Sub string   `json:"sub"`
}

// Verify checks a compact token and returns its claims. Every failure path
// returns a plain error whose message is safe to surface; the gateway maps
// them all to AUTH_FAILED.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	secret, ok := v.secret(ctx)
	if !ok || secret == "" {
		return nil, errors.New("Gateway not configured")
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return nil, errors.New("Malformed token")
	}

	headerJSON, err := decodeSegment(parts[0])
	if err != nil {
		return nil, errors.New("Malformed token header")
	}
	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, errors.New("Malformed token header")
	}
	if header.Alg != "HS256" {
		return nil, fmt.Errorf("Unsupported algorithm: %s", header.Alg)
	}
	if header.Typ != "" && header.Typ != "JWT" {
		return nil, fmt.Errorf("Unsupported token type: %s", header.Typ)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(parts[0] + "." + parts[1]))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !constantTimeEqual([]byte(expected), []byte(strings.TrimRight(parts[2], "="))) {
		return nil, errors.New("Signature mismatch")
	}

	claimsJSON, err := decodeSegment(parts[1])
	if err != nil {
		return nil, errors.New("Malformed token claims")
	}
	var tc tokenClaims
	if err := json.Unmarshal(claimsJSON, &tc); err != nil {
		return nil, errors.New("Malformed token claims")
	}

	now := v.clock().Unix()
	skew := int64(ClockSkew / time.Second)
	if tc.Exp != nil && int64(*tc.Exp)+skew < now {
		return nil, errors.New("Token expired")
	}
	if tc.Iat != nil && int64(*tc.Iat)-skew > now {
		return nil, errors.New("Token issued in the future")
	}

	if tc.Jti != "" && v.replay != nil {
		ttl := MaxTokenLifetime
		if tc.Exp != nil {
			remaining := time.Duration(int64(*tc.Exp)+skew-now) * time.Second
			if remaining < ttl {
				ttl = remaining
			}
			if ttl < time.Second {
				ttl = time.Second
			}
		}
		first, err := v.replay.Use(ctx, tc.Jti, ttl)
		if err != nil {
			// An unverifiable nonce is a replay risk; fail closed.
			return nil, errors.New("Replay check unavailable")
		}
		if !first {
			return nil, errors.New("Token replay detected")
		}
	}

	claims := &Claims{Subject: tc.Sub, TokenID: tc.Jti}
	if tc.Iat != nil {
		iat := int64(*tc.Iat)
		claims.IssuedAt = &iat
	}
	if tc.Exp != nil {
		exp := int64(*tc.Exp)
		claims.ExpiresAt = &exp
	}
	var raw map[string]any
	if err := json.Unmarshal(claimsJSON, &raw); err == nil {
		claims.Raw = raw
	}
	return claims, nil
}

// decodeSegment decodes a base64url token segment, tolerating padded input.
func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}

// constantTimeEqual compares two byte strings without short-circuiting on
// the first mismatch: a length check, then XOR-accumulation over every byte.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
