package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/gangway/pkg/auth"
)

// runToken mints a bearer token for manual testing and scripted callers.
func runToken(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("token", flag.ContinueOnError)
	flags.SetOutput(stderr)
	secret := flags.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to $JWT_SECRET)")
	subject := flags.String("sub", "cli", "token subject")
	ttl := flags.Duration("ttl", 2*time.Minute, "token lifetime")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if *secret == "" {
		_, _ = fmt.Fprintln(stderr, "gangway: token requires --secret or JWT_SECRET")
		return 2
	}
	if *ttl <= 0 || *ttl > auth.MaxTokenLifetime {
		_, _ = fmt.Fprintf(stderr, "gangway: token ttl must be positive and at most %s\n", auth.MaxTokenLifetime)
		return 2
	}

	token, err := auth.IssueToken(*secret, *subject, *ttl, time.Now())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "gangway: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}
