// Package version pins the gateway's release identity.
package version

// Build identity, overridable at link time:
//
//	go build -ldflags "-X github.com/Mindburn-Labs/gangway/pkg/version.Version=1.2.0"
var (
	Version = "1.0.0"
	Commit  = ""
)

// UserAgent identifies the gateway to upstream providers.
func UserAgent() string {
	return "gangway/" + Version
}
