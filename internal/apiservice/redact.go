package apiservice

import (
	"strings"

	"github.com/bytedance/sonic"
)

const (
	redacted        = "[REDACTED]"
	maxLoggedBody   = 64 << 10
	truncatedSuffix = "...[truncated]"
)

var secretKeyParts = []string{"api_key", "apikey", "password", "secret", "token", "authorization"}

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range secretKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// redactValue returns a copy of v with secret-looking keys masked at any depth.
func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSecretKey(k) {
				out[k] = redacted
				continue
			}
			out[k] = redactValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(val)
		}
		return out
	default:
		return v
	}
}

// redactedJSON encodes params with secrets masked for the API log.
func redactedJSON(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	generic := make(map[string]any, len(params))
	for k, v := range params {
		generic[k] = v
	}
	// round-trip so typed slices and structs become maps that can be walked
	raw, err := sonic.Marshal(generic)
	if err != nil {
		return "{}"
	}
	var decoded any
	if err := sonic.Unmarshal(raw, &decoded); err != nil {
		return "{}"
	}
	out, err := sonic.ConfigStd.Marshal(redactValue(decoded))
	if err != nil {
		return "{}"
	}
	return truncate(string(out))
}

// redactedBody masks secrets in a JSON response body; non-JSON is stored as is.
func redactedBody(body []byte) string {
	var decoded any
	if err := sonic.Unmarshal(body, &decoded); err != nil {
		return truncate(string(body))
	}
	out, err := sonic.ConfigStd.Marshal(redactValue(decoded))
	if err != nil {
		return truncate(string(body))
	}
	return truncate(string(out))
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + truncatedSuffix
}
