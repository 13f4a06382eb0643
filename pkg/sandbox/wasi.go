package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// WASIRunner executes a compiled WASI command module once per call.
// Compilation happens at load; each call gets a fresh instance, so plugin
// state never leaks between requests.
type WASIRunner struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	limits   Limits
}

// NewWASIRunner compiles wasmBytes under the given limits. The runtime is
// deny-by-default: no filesystem mounts, no environment, no host clock or
// randomness beyond what WASI preview 1 stubs in.
func NewWASIRunner(ctx context.Context, wasmBytes []byte, limits Limits) (*WASIRunner, error) {
	limits = limits.withDefaults()

	// 64 KiB per page.
	pages := uint32(limits.MemoryLimitBytes / (64 * 1024))
	if pages == 0 {
		pages = 1
	}
	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("sandbox: compile module: %w", err)
	}
	return &WASIRunner{runtime: r, compiled: compiled, limits: limits}, nil
}

// Run feeds input to a fresh instance's stdin and returns its stdout.
func (r *WASIRunner) Run(ctx context.Context, input []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.limits.CallTimeout)
	defer cancel()

	stdout := &cappedBuffer{max: OutputMaxBytes}
	stderr := &cappedBuffer{max: OutputMaxBytes}

	// Anonymous module name so repeated instantiations do not collide.
	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStdin(bytes.NewReader(input)).
		WithStdout(stdout).
		WithStderr(stderr)

	mod, err := r.runtime.InstantiateModule(ctx, r.compiled, modCfg)
	if mod != nil {
		defer func() { _ = mod.Close(ctx) }()
	}
	if err != nil {
		// A clean proc_exit(0) surfaces as an ExitError.
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return stdout.bytes(), nil
		}
		if stdout.exceeded || stderr.exceeded {
			return nil, errOutputLimit
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sandbox: call exceeded %s", r.limits.CallTimeout)
		}
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("sandbox: module exited with code %d: %s", exitErr.ExitCode(), firstLine(stderr.bytes()))
		}
		return nil, fmt.Errorf("sandbox: module run: %w", err)
	}

	if stdout.exceeded || stderr.exceeded {
		return nil, errOutputLimit
	}
	return stdout.bytes(), nil
}

// Close releases the runtime and every compiled artifact.
func (r *WASIRunner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// cappedBuffer fails the writer once max bytes have been accepted, which
// traps the module instead of letting it stream unbounded output.
type cappedBuffer struct {
	buf      bytes.Buffer
	max      int
	exceeded bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.max {
		b.exceeded = true
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) bytes() []byte { return b.buf.Bytes() }

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(bytes.TrimSpace(b))
}
