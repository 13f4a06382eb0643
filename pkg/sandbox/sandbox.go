// Package sandbox runs out-of-tree service handlers as WASI modules.
//
// A plugin is a WebAssembly command module: the gateway writes one JSON
// request to its stdin, the module writes one JSON result to its stdout
// and exits. Modules get no filesystem, no network, and no environment;
// memory, wall time, and output size are all capped. A plugin failure
// surfaces as an ordinary handler error and is mapped by the dispatcher
// like any other.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// OutputMaxBytes caps combined stdout and stderr from one plugin call.
const OutputMaxBytes = 1 << 20

// Default resource ceilings for plugin execution.
const (
	DefaultMemoryLimitBytes = 64 << 20
	DefaultCallTimeout      = 30 * time.Second
)

// Limits bounds a single plugin call. Zero fields fall back to the
// defaults above.
type Limits struct {
	MemoryLimitBytes int64
	CallTimeout      time.Duration
}

func (l Limits) withDefaults() Limits {
	if l.MemoryLimitBytes <= 0 {
		l.MemoryLimitBytes = DefaultMemoryLimitBytes
	}
	if l.CallTimeout <= 0 {
		l.CallTimeout = DefaultCallTimeout
	}
	return l
}

// Runner executes one plugin call: input bytes in, output bytes out.
type Runner interface {
	Run(ctx context.Context, input []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// errOutputLimit trips when a module writes past OutputMaxBytes.
var errOutputLimit = errors.New("sandbox: output limit exceeded")

// EchoRunner is a native Runner for tests and demos: it returns its input
// unchanged, so a plugin call answers with its own request envelope.
type EchoRunner struct{}

func (EchoRunner) Run(ctx context.Context, input []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("sandbox: echo interrupted: %w", ctx.Err())
	default:
	}
	if len(input) > OutputMaxBytes {
		return nil, errOutputLimit
	}
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}

func (EchoRunner) Close(context.Context) error { return nil }
