//go:build property
// +build property

package auth

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestConstantTimeEqualProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("agrees with bytes.Equal", prop.ForAll(
		func(a, b []byte) bool {
			return constantTimeEqual(a, b) == bytes.Equal(a, b)
		},
		gen.SliceOf(gen.UInt8()), gen.SliceOf(gen.UInt8()),
	))

	properties.Property("reflexive", prop.ForAll(
		func(a []byte) bool {
			return constantTimeEqual(a, a)
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("length mismatch never matches", prop.ForAll(
		func(a []byte, extra byte) bool {
			return !constantTimeEqual(a, append(append([]byte{}, a...), extra))
		},
		gen.SliceOf(gen.UInt8()), gen.UInt8(),
	))

	properties.TestingRun(t)
}

func TestVerifyTotalityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	source := func(context.Context) (string, bool) { return "topsecret-abcdefghijklmnopqrstu", true }
	v := NewVerifier(source, NewMemoryReplayCache()).WithClock(func() time.Time {
		return time.Unix(1_700_000_000, 0)
	})

	// Arbitrary byte soup must come back as an error, never a panic or a
	// spurious acceptance.
	properties.Property("never accepts unsigned input", prop.ForAll(
		func(token string) bool {
			_, err := v.Verify(context.Background(), token)
			return err != nil
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
