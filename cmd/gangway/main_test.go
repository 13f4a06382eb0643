package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/gangway/pkg/auth"
	"github.com/Mindburn-Labs/gangway/pkg/version"
)

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gangway", "version"}, &stdout, &stderr)
	assert.Zero(t, code)
	assert.Contains(t, stdout.String(), version.Version)
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gangway", "help"}, &stdout, &stderr)
	assert.Zero(t, code)
	assert.Contains(t, stdout.String(), "serve")
	assert.Contains(t, stdout.String(), "token")
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gangway", "bogus"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "bogus")
}

func TestRunTokenMintsVerifiableToken(t *testing.T) {
	const secret = "topsecret-abcdefghijklmnopqrstu!"

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gangway", "token", "--secret", secret, "--sub", "ops"}, &stdout, &stderr)
	require.Zero(t, code, stderr.String())

	token := strings.TrimSpace(stdout.String())
	require.NotEmpty(t, token)

	verifier := auth.NewVerifier(func(context.Context) (string, bool) { return secret, true }, nil)
	claims, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.NotEmpty(t, claims.TokenID)
}

func TestRunTokenRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"gangway", "token"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "JWT_SECRET")
}

func TestRunTokenRejectsOversizedTTL(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"gangway", "token", "--secret", "topsecret-abcdefghijklmnopqrstu!", "--ttl", "10m"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "ttl")
}
