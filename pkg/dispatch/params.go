package dispatch

import (
	"strings"

	"github.com/Mindburn-Labs/gangway/pkg/api"
)

// RequireParams checks that every key is present and non-empty. The first
// miss produces the INVALID_REQUEST the handler should return unchanged.
func RequireParams(params map[string]any, keys ...string) *api.Error {
	for _, key := range keys {
		v, ok := params[key]
		if !ok || v == nil {
			return api.Errorf(api.CodeInvalidRequest, "Missing required parameter: %s", key)
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			return api.Errorf(api.CodeInvalidRequest, "Missing required parameter: %s", key)
		}
	}
	return nil
}

// StringParam reads params[key] as a trimmed string; wrong type or absence
// reads as "".
func StringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// BoolParam reads params[key] as a bool with a default.
func BoolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// ClampInt reads an optional positive integer and clamps it into [1, max].
// Absence or a wrong type falls back to def. JSON numbers arrive as
// float64; int variants cover direct Go callers.
func ClampInt(params map[string]any, key string, def, max int) int {
	n := def
	switch v := params[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	}
	if n < 1 {
		n = 1
	}
	if n > max {
		n = max
	}
	return n
}
