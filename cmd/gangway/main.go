// Command gangway runs the authenticated command gateway and its operator
// utilities.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Mindburn-Labs/gangway/pkg/version"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entrypoint.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServe(nil, stdout, stderr)
	}

	switch args[1] {
	case "serve", "server":
		return runServe(args[2:], stdout, stderr)
	case "token":
		return runToken(args[2:], stdout, stderr)
	case "version", "--version":
		if version.Commit != "" {
			_, _ = fmt.Fprintf(stdout, "gangway %s (%s)\n", version.Version, version.Commit)
		} else {
			_, _ = fmt.Fprintf(stdout, "gangway %s\n", version.Version)
		}
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		// Bare flags mean "serve with flags", matching systemd unit files
		// that pass --config without a subcommand.
		if strings.HasPrefix(args[1], "-") {
			return runServe(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `gangway %s

USAGE:
  gangway [command] [flags]

COMMANDS:
  serve      Run the gateway server (default)
  token      Mint a bearer token for the gateway
  version    Show version information
  help       Show this help

SERVE FLAGS:
  --config <path>   YAML settings profile (env vars override)

TOKEN FLAGS:
  --secret <value>  Signing secret (defaults to $JWT_SECRET)
  --sub <subject>   Token subject (default "cli")
  --ttl <duration>  Token lifetime, at most 5m (default 2m)
`, version.Version)
}
