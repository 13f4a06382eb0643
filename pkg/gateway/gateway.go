// Package gateway is the HTTP front door: one public endpoint that health
// checks on GET and runs the full command pipeline on POST. The pipeline
// order is fixed: parse, init-window short-circuit, token verification,
// address policy, request policy, dispatch. Every command terminates in
// exactly one envelope and one audit entry.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/audit"
	"github.com/Mindburn-Labs/gangway/pkg/auth"
	"github.com/Mindburn-Labs/gangway/pkg/bootstrap"
	"github.com/Mindburn-Labs/gangway/pkg/config"
	"github.com/Mindburn-Labs/gangway/pkg/dispatch"
	"github.com/Mindburn-Labs/gangway/pkg/firewall"
	"github.com/Mindburn-Labs/gangway/pkg/policy"
	"github.com/Mindburn-Labs/gangway/pkg/version"
)

const (
	// Watchdog bounds one command end to end. When it fires the caller
	// gets a retryable TIMEOUT and the handler goroutine is abandoned.
	Watchdog = 330 * time.Second

	// maxBodyBytes caps the request envelope size.
	maxBodyBytes = 1 << 20
)

// Recorder receives each command's terminal audit entry.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// Server owns the endpoint and the pipeline collaborators.
type Server struct {
	cfg        *config.Config
	verifier   *auth.Verifier
	firewall   *firewall.Policy
	dispatcher *dispatch.Dispatcher
	boot       *bootstrap.Window
	policy     *policy.Engine
	audits     Recorder
	limiter    *api.GlobalRateLimiter
	watchdog   time.Duration
	clock      func() time.Time
	logger     *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithAudit wires the terminal-entry recorder.
func WithAudit(rec Recorder) Option {
	return func(s *Server) { s.audits = rec }
}

// WithBootstrap enables the unauthenticated init window.
func WithBootstrap(w *bootstrap.Window) Option {
	return func(s *Server) { s.boot = w }
}

// WithPolicy wires the optional request policy rule.
func WithPolicy(e *policy.Engine) Option {
	return func(s *Server) { s.policy = e }
}

// WithRateLimit puts a per-IP token bucket in front of the endpoint.
func WithRateLimit(rl *api.GlobalRateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithWatchdog overrides the command deadline.
func WithWatchdog(d time.Duration) Option {
	return func(s *Server) { s.watchdog = d }
}

// WithClock fixes the server's time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// NewServer builds the front door over its pipeline collaborators.
func NewServer(cfg *config.Config, verifier *auth.Verifier, fw *firewall.Policy, dispatcher *dispatch.Dispatcher, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		verifier:   verifier,
		firewall:   fw,
		dispatcher: dispatcher,
		watchdog:   Watchdog,
		clock:      time.Now,
		logger:     slog.Default().With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler assembles the endpoint with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return api.RequestIDMiddleware(h)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleHealth(w, r)
	case http.MethodPost:
		s.handleCommand(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		api.WriteFailure(w, api.Errorf(api.CodeInvalidRequest, "Method not allowed: %s", r.Method), api.GetRequestID(r.Context()))
	}
}

// handleHealth answers the unauthenticated liveness probe. No secrets, no
// audit entry.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	api.WriteResponse(w, api.Success(map[string]any{
		"status":     "healthy",
		"timestamp":  s.clock().UTC().Format(time.RFC3339),
		"version":    version.Version,
		"configured": s.cfg.Configured(ctx),
	}, api.GetRequestID(ctx)))
}

type outcome struct {
	data any
	err  *api.Error
}

// handleCommand runs one command under the watchdog. The pipeline executes
// in its own goroutine; if the watchdog fires first the goroutine is
// abandoned with a cancelled context and the caller gets TIMEOUT.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := api.GetRequestID(ctx)
	start := s.clock()

	var req api.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.finish(ctx, w, req, requestID, start, outcome{err: api.NewError(api.CodeInvalidRequest, "Invalid JSON body")})
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		data, apiErr := s.execute(runCtx, &req)
		done <- outcome{data: data, err: apiErr}
	}()

	timer := time.NewTimer(s.watchdog)
	defer timer.Stop()

	select {
	case out := <-done:
		s.finish(ctx, w, req, requestID, start, out)
	case <-timer.C:
		cancel()
		s.logger.WarnContext(ctx, "watchdog fired, abandoning handler",
			"request_id", requestID, "service", req.Service, "action", req.Action)
		s.finish(ctx, w, req, requestID, start, outcome{err: api.Errorf(api.CodeTimeout, "Request timed out after %s", s.watchdog)})
	}
}

// execute is the ordered pipeline body.
func (s *Server) execute(ctx context.Context, req *api.Request) (any, *api.Error) {
	service := strings.TrimSpace(req.Service)
	action := strings.TrimSpace(req.Action)
	if service == "" || action == "" {
		return nil, api.NewError(api.CodeInvalidRequest, "Missing service or action")
	}

	// The init window is the only unauthenticated command.
	if strings.EqualFold(service, bootstrap.ServiceName) {
		if s.boot == nil {
			return nil, api.Errorf(api.CodeNotFound, "Unknown service: %s", service)
		}
		if action != bootstrap.ActionSetSecret {
			return nil, api.Errorf(api.CodeNotFound, "Unknown action: %s.%s", bootstrap.ServiceName, action)
		}
		return s.boot.HandleSetSecret(ctx, req.Params)
	}

	claims, err := s.verifier.Verify(ctx, req.JWT)
	if err != nil {
		return nil, api.NewError(api.CodeAuthFailed, err.Error())
	}

	if apiErr := s.firewall.Check(ctx, req.ClientIP); apiErr != nil {
		return nil, apiErr
	}

	if s.policy != nil {
		in := policy.Input{Service: service, Action: action, ClientIP: req.ClientIP, Subject: claims.Subject}
		if apiErr := s.policy.Check(ctx, in); apiErr != nil {
			return nil, apiErr
		}
	}

	return s.dispatcher.Dispatch(ctx, service, action, req.Params)
}

// finish writes the envelope and the request's one audit entry.
func (s *Server) finish(ctx context.Context, w http.ResponseWriter, req api.Request, requestID string, start time.Time, out outcome) {
	if out.err == nil {
		api.WriteResponse(w, api.Success(out.data, requestID))
	} else {
		api.WriteFailure(w, out.err, requestID)
	}

	if s.audits == nil {
		return
	}
	e := audit.Entry{
		RequestID:  requestID,
		ClientIP:   req.ClientIP,
		Service:    strings.TrimSpace(req.Service),
		Action:     strings.TrimSpace(req.Action),
		Status:     terminalStatus(out.err),
		DurationMS: s.clock().Sub(start).Milliseconds(),
	}
	if out.err != nil {
		e.ErrorMessage = out.err.Message
	}
	// The entry must land even when the client has gone away.
	s.audits.Record(context.WithoutCancel(ctx), e)
}

// terminalStatus maps an envelope error onto the closed audit status set.
func terminalStatus(err *api.Error) audit.Status {
	if err == nil {
		return audit.StatusOK
	}
	switch err.Code {
	case api.CodeAuthFailed:
		return audit.StatusAuthFailed
	case api.CodeIPBlocked:
		return audit.StatusIPBlocked
	case api.CodeForbidden:
		return audit.StatusBlocked
	case api.CodeTimeout:
		return audit.StatusTimeout
	default:
		return audit.StatusError
	}
}

// ListenAndServe runs the endpoint until ctx is cancelled, then drains
// in-flight requests. TLS is used when the settings carry a certificate.
func (s *Server) ListenAndServe(ctx context.Context, settings *config.Settings) error {
	srv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Must outlast the watchdog or the TIMEOUT envelope cannot be
		// written.
		WriteTimeout: s.watchdog + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if settings.TLSEnabled() {
			s.logger.Info("listening", "addr", settings.ListenAddr, "tls", true)
			err = srv.ListenAndServeTLS(settings.TLSCertFile, settings.TLSKeyFile)
		} else {
			s.logger.Info("listening", "addr", settings.ListenAddr, "tls", false)
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return <-errCh
}
