package gateway_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/audit"
	"github.com/Mindburn-Labs/gangway/pkg/auth"
	"github.com/Mindburn-Labs/gangway/pkg/bootstrap"
	"github.com/Mindburn-Labs/gangway/pkg/config"
	"github.com/Mindburn-Labs/gangway/pkg/dispatch"
	"github.com/Mindburn-Labs/gangway/pkg/firewall"
	"github.com/Mindburn-Labs/gangway/pkg/gateway"
	"github.com/Mindburn-Labs/gangway/pkg/policy"
	"github.com/Mindburn-Labs/gangway/pkg/services/admin"
)

const testSecret = "topsecret-abcdefghijklmnopqrstu"

var testNow = time.Unix(1_700_000_000, 0).UTC()

// testClock is a mutable time source shared by every pipeline stage, safe
// for the handler goroutines the watchdog spawns.
type testClock struct {
	mu sync.Mutex
	at time.Time
}

func newTestClock() *testClock { return &testClock{at: testNow} }

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

type memRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *memRecorder) Record(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *memRecorder) all() []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Entry(nil), r.entries...)
}

type fixture struct {
	cfg   *config.Config
	clock *testClock
	rec   *memRecorder
	ts    *httptest.Server
}

// wait is a handler that blocks until its context dies or release closes.
type waitHandler struct {
	release chan struct{}
}

func (h *waitHandler) Handle(ctx context.Context, _ string, _ map[string]any) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.release:
		return map[string]any{"done": true}, nil
	}
}

func (h *waitHandler) Actions() []string { return []string{"block"} }

// newFixture stands up the full pipeline over in-memory stores. configured
// controls whether the shared secret is provisioned up front.
func newFixture(t *testing.T, configured bool, opts ...gateway.Option) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := config.New(config.NewMemoryStore())
	clock := newTestClock()
	rec := &memRecorder{}

	boot := bootstrap.NewWindow(cfg).WithClock(clock.now)
	require.NoError(t, boot.EnsureDeployStamp(ctx))
	if configured {
		require.NoError(t, cfg.Set(ctx, config.KeyJWTSecret, testSecret))
	}

	replay := auth.NewMemoryReplayCache().WithClock(clock.now)
	verifier := auth.NewVerifier(func(ctx context.Context) (string, bool) {
		return cfg.Lookup(ctx, config.KeyJWTSecret)
	}, replay).WithClock(clock.now)

	reg := dispatch.NewRegistry()
	adminHandler := admin.NewHandler(cfg, audit.NewMemorySink(),
		admin.WithServices(reg.Services),
		admin.WithClock(clock.now))
	reg.Register("admin", adminHandler)
	reg.Register("slow", &waitHandler{release: make(chan struct{})})

	opts = append([]gateway.Option{
		gateway.WithAudit(rec),
		gateway.WithBootstrap(boot),
		gateway.WithPolicy(policy.NewEngine(cfg)),
		gateway.WithClock(clock.now),
	}, opts...)
	srv := gateway.NewServer(cfg, verifier, firewall.NewPolicy(cfg), dispatch.NewDispatcher(reg), opts...)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{cfg: cfg, clock: clock, rec: rec, ts: ts}
}

func (f *fixture) post(t *testing.T, req api.Request) (api.Response, int) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	resp, err := http.Post(f.ts.URL, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out, resp.StatusCode
}

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := auth.Mint(testSecret, claims)
	require.NoError(t, err)
	return token
}

func freshToken(t *testing.T, jti string) string {
	t.Helper()
	return mintToken(t, jwt.MapClaims{
		"sub": "ops",
		"jti": jti,
		"iat": testNow.Unix(),
		"exp": testNow.Add(2 * time.Minute).Unix(),
	})
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, true)

	resp, err := http.Get(f.ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.True(t, out.OK)
	assert.NotEmpty(t, out.RequestID)

	data := out.Data.(map[string]any)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, true, data["configured"])
	assert.Equal(t, "2023-11-14T22:13:20Z", data["timestamp"])

	assert.Empty(t, f.rec.all(), "health probes are not audited")
}

func TestAdminHealthDispatch(t *testing.T) {
	f := newFixture(t, true)

	out, status := f.post(t, api.Request{
		JWT:     freshToken(t, "happy-1"),
		Service: "admin",
		Action:  "health",
	})
	assert.Equal(t, http.StatusOK, status)
	require.True(t, out.OK, "got %+v", out.Err)

	data := out.Data.(map[string]any)
	assert.Equal(t, "1.0.0", data["version"])
	assert.Equal(t, true, data["configured"])
	assert.Contains(t, data["services"], "admin")

	entries := f.rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusOK, entries[0].Status)
	assert.Equal(t, "admin", entries[0].Service)
	assert.Equal(t, "health", entries[0].Action)
	assert.Equal(t, out.RequestID, entries[0].RequestID)
}

func TestExpiredToken(t *testing.T) {
	f := newFixture(t, true)

	expired := mintToken(t, jwt.MapClaims{
		"sub": "ops",
		"jti": "old-1",
		"iat": int64(1_699_998_000),
		"exp": int64(1_699_999_000),
	})
	out, status := f.post(t, api.Request{JWT: expired, Service: "admin", Action: "health"})

	assert.Equal(t, http.StatusUnauthorized, status)
	require.False(t, out.OK)
	assert.Equal(t, api.CodeAuthFailed, out.Err.Code)
	assert.Equal(t, "Token expired", out.Err.Message)
	assert.False(t, out.Err.Retryable)

	entries := f.rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusAuthFailed, entries[0].Status)
}

func TestReplayedToken(t *testing.T) {
	f := newFixture(t, true)
	token := freshToken(t, "u2")

	out, _ := f.post(t, api.Request{JWT: token, Service: "admin", Action: "health"})
	require.True(t, out.OK, "first use must pass: %+v", out.Err)

	f.clock.advance(5 * time.Second)
	out, status := f.post(t, api.Request{JWT: token, Service: "admin", Action: "health"})
	assert.Equal(t, http.StatusUnauthorized, status)
	require.False(t, out.OK)
	assert.Equal(t, api.CodeAuthFailed, out.Err.Code)
	assert.Regexp(t, `(?i)replay`, out.Err.Message)
}

func TestIPAllowlist(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	require.NoError(t, f.cfg.Set(ctx, config.KeyIPAllowlist, "203.0.113.0/24"))

	out, status := f.post(t, api.Request{
		JWT:      freshToken(t, "ip-1"),
		Service:  "admin",
		Action:   "health",
		ClientIP: "198.51.100.7",
	})
	assert.Equal(t, http.StatusForbidden, status)
	require.False(t, out.OK)
	assert.Equal(t, api.CodeIPBlocked, out.Err.Code)

	entries := f.rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusIPBlocked, entries[0].Status)
	assert.Equal(t, "198.51.100.7", entries[0].ClientIP)

	out, _ = f.post(t, api.Request{
		JWT:      freshToken(t, "ip-2"),
		Service:  "admin",
		Action:   "health",
		ClientIP: "203.0.113.9",
	})
	assert.True(t, out.OK, "in-range address must pass: %+v", out.Err)
}

func TestUnknownService(t *testing.T) {
	f := newFixture(t, true)

	out, status := f.post(t, api.Request{JWT: freshToken(t, "svc-1"), Service: "widgets", Action: "list"})
	assert.Equal(t, http.StatusNotFound, status)
	require.False(t, out.OK)
	assert.Equal(t, api.CodeNotFound, out.Err.Code)
	assert.Contains(t, out.Err.Message, "widgets")

	entries := f.rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusError, entries[0].Status)
}

func TestPolicyRuleDeniesRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	require.NoError(t, f.cfg.Set(ctx, config.KeyPolicyRule, `subject == "eve"`))

	eve := mintToken(t, jwt.MapClaims{
		"sub": "eve",
		"jti": "pol-1",
		"iat": testNow.Unix(),
		"exp": testNow.Add(time.Minute).Unix(),
	})
	out, status := f.post(t, api.Request{JWT: eve, Service: "admin", Action: "health"})
	assert.Equal(t, http.StatusForbidden, status)
	require.False(t, out.OK)
	assert.Equal(t, api.CodeForbidden, out.Err.Code)
	assert.Equal(t, "denied by policy rule", out.Err.Message)

	entries := f.rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusBlocked, entries[0].Status)

	out, _ = f.post(t, api.Request{JWT: freshToken(t, "pol-2"), Service: "admin", Action: "health"})
	assert.True(t, out.OK, "rule must only bite the named subject: %+v", out.Err)
}

func TestInitFlow(t *testing.T) {
	f := newFixture(t, false)

	// Before provisioning every authenticated call fails closed.
	out, _ := f.post(t, api.Request{JWT: freshToken(t, "pre-1"), Service: "admin", Action: "health"})
	require.False(t, out.OK)
	assert.Equal(t, api.CodeAuthFailed, out.Err.Code)
	assert.Equal(t, "Gateway not configured", out.Err.Message)

	out, _ = f.post(t, api.Request{Service: "_init", Action: "frobnicate"})
	require.False(t, out.OK)
	assert.Equal(t, api.CodeNotFound, out.Err.Code)

	f.clock.advance(time.Minute)
	out, status := f.post(t, api.Request{
		Service: "_init",
		Action:  "setSecret",
		Params:  map[string]any{"secret": testSecret + "!"},
	})
	assert.Equal(t, http.StatusOK, status)
	require.True(t, out.OK, "got %+v", out.Err)
	assert.Equal(t, map[string]any{"initialized": true}, out.Data)

	// Second attempt is rejected and the gateway now authenticates.
	out, _ = f.post(t, api.Request{
		Service: "_init",
		Action:  "setSecret",
		Params:  map[string]any{"secret": testSecret + "!"},
	})
	require.False(t, out.OK)
	assert.Equal(t, api.CodeInitRejected, out.Err.Code)
	assert.Equal(t, "already configured", out.Err.Message)

	statuses := make([]audit.Status, 0)
	for _, e := range f.rec.all() {
		if e.Service == "_init" {
			statuses = append(statuses, e.Status)
		}
	}
	assert.Equal(t, []audit.Status{audit.StatusError, audit.StatusOK, audit.StatusError}, statuses)
}

func TestWatchdogTimeout(t *testing.T) {
	f := newFixture(t, true, gateway.WithWatchdog(50*time.Millisecond))

	out, status := f.post(t, api.Request{JWT: freshToken(t, "slow-1"), Service: "slow", Action: "block"})
	assert.Equal(t, http.StatusGatewayTimeout, status)
	require.False(t, out.OK)
	assert.Equal(t, api.CodeTimeout, out.Err.Code)
	assert.True(t, out.Err.Retryable)

	entries := f.rec.all()
	require.Len(t, entries, 1, "a timed-out command still leaves exactly one entry")
	assert.Equal(t, audit.StatusTimeout, entries[0].Status)
	assert.Equal(t, "slow", entries[0].Service)
}

func TestInvalidJSONBody(t *testing.T) {
	f := newFixture(t, true)

	resp, err := http.Post(f.ts.URL, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var out api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.OK)
	assert.Equal(t, api.CodeInvalidRequest, out.Err.Code)
	assert.Equal(t, "Invalid JSON body", out.Err.Message)

	entries := f.rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusError, entries[0].Status)
	assert.Empty(t, entries[0].Service)
}

func TestMissingServiceOrAction(t *testing.T) {
	f := newFixture(t, true)

	out, status := f.post(t, api.Request{JWT: freshToken(t, "shape-1")})
	assert.Equal(t, http.StatusBadRequest, status)
	require.False(t, out.OK)
	assert.Equal(t, api.CodeInvalidRequest, out.Err.Code)
	assert.Equal(t, "Missing service or action", out.Err.Message)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, true)

	req, err := http.NewRequest(http.MethodDelete, f.ts.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "GET, POST", resp.Header.Get("Allow"))
	var out api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.OK)
	assert.Equal(t, api.CodeInvalidRequest, out.Err.Code)
	assert.Contains(t, out.Err.Message, "DELETE")
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t, true, gateway.WithRateLimit(api.NewGlobalRateLimiter(1, 1)))

	resp, err := http.Get(f.ts.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("Retry-After"))

	var out api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.False(t, out.OK)
	assert.Equal(t, api.CodeQuotaExceeded, out.Err.Code)
	assert.True(t, out.Err.Retryable)
}

func TestClientRequestIDIsReused(t *testing.T) {
	f := newFixture(t, true)

	body, err := json.Marshal(api.Request{JWT: freshToken(t, "rid-1"), Service: "admin", Action: "health"})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.ts.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "retry-7f3a")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out api.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "retry-7f3a", out.RequestID)

	entries := f.rec.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "retry-7f3a", entries[0].RequestID)
}
