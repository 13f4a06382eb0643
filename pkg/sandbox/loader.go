package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadDir compiles every *.wasm file directly under dir into a plugin
// handler keyed by service name, which is the file stem: mail-extras.wasm
// registers as service "mail-extras". A missing directory loads nothing;
// a module that fails to compile fails the whole load, since a silently
// absent plugin is worse than a loud boot.
func LoadDir(ctx context.Context, dir string, limits Limits) (map[string]*PluginHandler, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sandbox: read plugin dir: %w", err)
	}

	handlers := make(map[string]*PluginHandler)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}
		service := strings.TrimSuffix(entry.Name(), ".wasm")
		if service == "" {
			continue
		}

		wasmBytes, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("sandbox: read plugin %s: %w", entry.Name(), err)
		}
		runner, err := NewWASIRunner(ctx, wasmBytes, limits)
		if err != nil {
			return nil, fmt.Errorf("sandbox: load plugin %s: %w", entry.Name(), err)
		}
		handlers[service] = NewPluginHandler(service, runner)
	}
	return handlers, nil
}
