// Package policy evaluates the operator-authored deny rule.
//
// The rule is a CEL expression over request attributes, stored under
// POLICY_RULE and compiled once per distinct rule text. Like the IP
// reputation check it is an advisory layer: an empty rule, a rule that
// will not compile, or an evaluation failure all allow the request.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/config"
)

// evalCostLimit bounds a single rule evaluation. InterruptCheckFrequency
// keeps cancellation responsive inside comprehensions.
const evalCostLimit = 100000

// Input carries the request attributes a rule can reference.
type Input struct {
	Service  string
	Action   string
	ClientIP string
	Subject  string
}

// Engine evaluates POLICY_RULE against each request. Compilation is cached
// per rule text; a config change swaps the program on the next request.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	mu       sync.Mutex
	ruleText string
	program  cel.Program
	loaded   bool
}

// NewEngine wires the engine to live configuration.
func NewEngine(cfg *config.Config) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: slog.Default().With("component", "policy"),
	}
}

// Check evaluates the configured rule against in. Only a rule that
// affirmatively evaluates to true denies.
func (e *Engine) Check(ctx context.Context, in Input) *api.Error {
	prog := e.load(ctx)
	if prog == nil {
		return nil
	}

	val, _, err := prog.ContextEval(ctx, map[string]any{
		"service":  in.Service,
		"action":   in.Action,
		"clientIp": in.ClientIP,
		"subject":  in.Subject,
	})
	if err != nil {
		e.logger.WarnContext(ctx, "policy rule evaluation failed open", "error", err)
		return nil
	}
	if denied, ok := val.Value().(bool); ok && denied {
		return api.NewError(api.CodeForbidden, "denied by policy rule")
	}
	return nil
}

// load returns the program for the current rule text, rebuilding when the
// stored rule has changed. A rule that fails to compile logs once and
// leaves the engine disabled until the text changes again.
func (e *Engine) load(ctx context.Context) cel.Program {
	rule := strings.TrimSpace(e.cfg.Value(ctx, config.KeyPolicyRule))

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded && rule == e.ruleText {
		return e.program
	}

	e.ruleText = rule
	e.program = nil
	e.loaded = true
	if rule == "" {
		return nil
	}

	prog, err := compile(rule)
	if err != nil {
		e.logger.WarnContext(ctx, "policy rule disabled", "error", err)
		return nil
	}
	e.program = prog
	return prog
}

func compile(rule string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.StdLib(),
		cel.Variable("service", cel.StringType),
		cel.Variable("action", cel.StringType),
		cel.Variable("clientIp", cel.StringType),
		cel.Variable("subject", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: create env: %w", err)
	}

	ast, issues := env.Compile(rule)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compile rule: %w", issues.Err())
	}

	prog, err := env.Program(ast,
		cel.CostLimit(evalCostLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, fmt.Errorf("policy: build program: %w", err)
	}
	return prog, nil
}
