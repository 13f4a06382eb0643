package dispatch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// ParamsDigest canonicalizes params per RFC 8785 (JCS) and returns the
// SHA-256 of the canonical form. Telemetry carries the digest so traces
// can be correlated against client logs without the payload ever leaving
// the process. Empty params and unserializable values digest to "".
func ParamsDigest(params map[string]any) string {
	if len(params) == 0 {
		return ""
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
