package secret

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// RedactedToken replaces every occurrence of a protected plaintext (and
// its encoded variants) in masked output.
const RedactedToken = "[REDACTED]"

// minMaskableLength: secrets shorter than this are left alone to avoid
// self-masking common literals ("a", "1", "ok").
const minMaskableLength = 4

// variants returns every literal form of secret that should be redacted:
// the raw value plus its base64, URL-safe base64, and lower/upper hex
// encodings.
func variants(plaintext string) []string {
	if len(plaintext) < minMaskableLength {
		return nil
	}
	b := []byte(plaintext)
	return []string{
		plaintext,
		base64.StdEncoding.EncodeToString(b),
		base64.URLEncoding.EncodeToString(b),
		hex.EncodeToString(b),
		strings.ToUpper(hex.EncodeToString(b)),
	}
}

// Mask redacts every occurrence of any secret in plaintexts (and their
// encoded variants) from value. When value round-trips through JSON
// (maps, slices, JSON-marshalable scalars), masking recurses structurally;
// otherwise it falls back to a direct string-level pass over fmt-rendered
// value.
func Mask(value any, plaintexts []string) any {
	needles := make([]string, 0, len(plaintexts)*5)
	for _, p := range plaintexts {
		needles = append(needles, variants(p)...)
	}
	if len(needles) == 0 {
		return value
	}
	return maskValue(value, needles)
}

func maskValue(v any, needles []string) any {
	switch vv := v.(type) {
	case string:
		return maskString(vv, needles)
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = maskValue(val, needles)
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = maskValue(val, needles)
		}
		return out
	case nil, bool, float64, int, int64, json.Number:
		// Scalars with nothing string-shaped to mask.
		return v
	default:
		// Structured types that aren't already map[string]any/[]any
		// (structs, typed slices/maps): round-trip through JSON once to
		// reach a generic shape, then recurse on that.
		data, err := json.Marshal(vv)
		if err != nil {
			return maskString(fmt.Sprint(vv), needles)
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return v
		}
		switch generic.(type) {
		case map[string]any, []any:
			return maskValue(generic, needles)
		default:
			// Already scalar after round-trip (e.g. a named string/int
			// type) — mask directly if it came out as a string.
			if s, ok := generic.(string); ok {
				return maskString(s, needles)
			}
			return v
		}
	}
}

func maskString(s string, needles []string) string {
	for _, n := range needles {
		if n == "" {
			continue
		}
		s = strings.ReplaceAll(s, n, RedactedToken)
	}
	return s
}
