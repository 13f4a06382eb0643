package auth_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gangway/pkg/auth"
)

const (
	testNow    = int64(1_700_000_000)
	testSecret = "topsecret-abcdefghijklmnopqrstu"
)

func secretSource(secret string) auth.SecretSource {
	return func(context.Context) (string, bool) { return secret, secret != "" }
}

func fixedClock(sec int64) func() time.Time {
	return func() time.Time { return time.Unix(sec, 0) }
}

func newVerifier(t *testing.T, clockSec int64) *auth.Verifier {
	t.Helper()
	replay := auth.NewMemoryReplayCache().WithClock(fixedClock(clockSec))
	return auth.NewVerifier(secretSource(testSecret), replay).WithClock(fixedClock(clockSec))
}

// handSign builds a token without golang-jwt so header variations and
// malformed claims can be exercised against an independent signer.
func handSign(secret, headerJSON, claimsJSON string) string {
	h := base64.RawURLEncoding.EncodeToString([]byte(headerJSON))
	c := base64.RawURLEncoding.EncodeToString([]byte(claimsJSON))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(h + "." + c))
	return h + "." + c + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyMintedToken(t *testing.T) {
	token, err := auth.Mint(testSecret, jwt.MapClaims{
		"sub": "ops-agent",
		"jti": "u1",
		"iat": testNow,
		"exp": testNow + 300,
	})
	require.NoError(t, err)

	claims, err := newVerifier(t, testNow).Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ops-agent", claims.Subject)
	assert.Equal(t, "u1", claims.TokenID)
	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.Equal(t, testNow, *claims.IssuedAt)
	assert.Equal(t, testNow+300, *claims.ExpiresAt)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	token, err := auth.IssueToken(testSecret, "ops-agent", 5*time.Minute, time.Unix(testNow, 0))
	require.NoError(t, err)

	tampered := token[:len(token)-2] + "xx"
	_, err = newVerifier(t, testNow).Verify(context.Background(), tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Signature mismatch")
}

func TestExpiryBoundaries(t *testing.T) {
	v := newVerifier(t, testNow)

	atEdge, err := auth.Mint(testSecret, jwt.MapClaims{"exp": testNow - 30})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), atEdge)
	assert.NoError(t, err, "exp == now-30 is within skew")

	pastEdge, err := auth.Mint(testSecret, jwt.MapClaims{"exp": testNow - 31})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), pastEdge)
	require.Error(t, err)
	assert.Equal(t, "Token expired", err.Error())
}

func TestIssuedAtBoundaries(t *testing.T) {
	v := newVerifier(t, testNow)

	atEdge, err := auth.Mint(testSecret, jwt.MapClaims{"iat": testNow + 30})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), atEdge)
	assert.NoError(t, err, "iat == now+30 is within skew")

	pastEdge, err := auth.Mint(testSecret, jwt.MapClaims{"iat": testNow + 31})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), pastEdge)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "future")
}

func TestExpiredTokenScenario(t *testing.T) {
	token, err := auth.Mint(testSecret, jwt.MapClaims{
		"sub": "ops-agent",
		"jti": "stale",
		"iat": int64(1_699_998_700),
		"exp": int64(1_699_999_000),
	})
	require.NoError(t, err)

	_, err = newVerifier(t, testNow).Verify(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, "Token expired", err.Error())
}

func TestAlgorithmPinning(t *testing.T) {
	v := newVerifier(t, testNow)

	none := handSign(testSecret, `{"alg":"none"}`, `{"sub":"x"}`)
	_, err := v.Verify(context.Background(), none)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported algorithm")

	hs384 := handSign(testSecret, `{"alg":"HS384","typ":"JWT"}`, `{"sub":"x"}`)
	_, err = v.Verify(context.Background(), hs384)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported algorithm")
}

func TestTypHeader(t *testing.T) {
	v := newVerifier(t, testNow)

	missing := handSign(testSecret, `{"alg":"HS256"}`, `{"sub":"x"}`)
	_, err := v.Verify(context.Background(), missing)
	assert.NoError(t, err, "absent typ is allowed")

	wrong := handSign(testSecret, `{"alg":"HS256","typ":"JWS"}`, `{"sub":"x"}`)
	_, err = v.Verify(context.Background(), wrong)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported token type")
}

func TestReplayDetection(t *testing.T) {
	replay := auth.NewMemoryReplayCache().WithClock(fixedClock(testNow))
	v := auth.NewVerifier(secretSource(testSecret), replay).WithClock(fixedClock(testNow))

	token, err := auth.Mint(testSecret, jwt.MapClaims{
		"jti": "u2",
		"iat": testNow,
		"exp": testNow + 300,
	})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)

	// Five seconds later the identical token must be refused.
	replay.WithClock(fixedClock(testNow + 5))
	v.WithClock(fixedClock(testNow + 5))
	_, err = v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.Regexp(t, `(?i)replay`, err.Error())
}

func TestNoJtiSkipsReplayProtection(t *testing.T) {
	v := newVerifier(t, testNow)
	token, err := auth.Mint(testSecret, jwt.MapClaims{"iat": testNow, "exp": testNow + 300})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), token)
	assert.NoError(t, err, "tokens without jti are not replay-protected")
}

type failingReplay struct{}

func (failingReplay) Use(context.Context, string, time.Duration) (bool, error) {
	return false, context.DeadlineExceeded
}

func TestReplayCacheFailureFailsClosed(t *testing.T) {
	v := auth.NewVerifier(secretSource(testSecret), failingReplay{}).WithClock(fixedClock(testNow))
	token, err := auth.Mint(testSecret, jwt.MapClaims{"jti": "u3", "exp": testNow + 300})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Replay check unavailable")
}

func TestUnconfiguredSecret(t *testing.T) {
	v := auth.NewVerifier(secretSource(""), auth.NewMemoryReplayCache()).WithClock(fixedClock(testNow))
	token, err := auth.Mint(testSecret, jwt.MapClaims{"exp": testNow + 300})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestVerifyTotalityOnGarbage(t *testing.T) {
	v := newVerifier(t, testNow)
	inputs := []string{
		"",
		"abc",
		"a.b",
		"a.b.c.d",
		"!!!.@@@.###",
		"eyJhbGciOiJIUzI1NiJ9..sig",
		handSign(testSecret, `not-json`, `{"sub":"x"}`),
		handSign(testSecret, `{"alg":"HS256"}`, `not-json`),
		".." ,
	}
	for _, in := range inputs {
		_, err := v.Verify(context.Background(), in)
		assert.Error(t, err, "input %q must be rejected, not panic", in)
	}
}
