package security

import (
	"regexp"

	"github.com/slapchain/oracled/internal/model"
)

// Telemetry payloads come from untrusted pages that sometimes echo wallet
// session material back at us. Anything secret-shaped is stripped before the
// payload is journaled.

var (
	secretKeyPattern = regexp.MustCompile(`(?i)^(?:password|passwd|secret|seed[_-]?phrase|mnemonic|private[_-]?key|api[_-]?key|[a-z0-9._-]*token[a-z0-9._-]*)$`)
	pemValuePattern  = regexp.MustCompile(`(?s)-----BEGIN [^-]+ PRIVATE KEY-----`)
	bearerPattern    = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`)
)

const redactedValue = "[REDACTED]"

// Maps nested deeper than this are dropped wholesale; game payloads are flat
// in practice and depth is attacker-controlled.
const maxSanitizeDepth = 4

// SanitizePayload returns a copy of the payload safe for storage. Values
// under secret-looking keys are replaced, secret-looking string values are
// scrubbed, and everything else passes through untouched.
func SanitizePayload(p model.Payload) model.Payload {
	return sanitizeMap(map[string]any(p), 0)
}

func sanitizeMap(m map[string]any, depth int) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			out[k] = redactedValue
			continue
		}
		out[k] = sanitizeValue(v, depth)
	}
	return out
}

func sanitizeValue(v any, depth int) any {
	switch val := v.(type) {
	case string:
		if pemValuePattern.MatchString(val) {
			return redactedValue
		}
		return bearerPattern.ReplaceAllString(val, "Bearer "+redactedValue)
	case map[string]any:
		if depth+1 >= maxSanitizeDepth {
			return redactedValue
		}
		return sanitizeMap(val, depth+1)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item, depth+1)
		}
		return out
	default:
		return v
	}
}
