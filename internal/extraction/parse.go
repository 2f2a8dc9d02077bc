package extraction

import (
	"bytes"
	"encoding/json"
	"strings"
)

// multiValueDelimiters split a delimiter-separated multi-select answer.
var multiValueDelimiters = []string{",", "，", ";", "；", "\n"}

// ParseObject parses completion output as a single JSON object, tolerating a
// markdown code fence and leading/trailing prose. Returns false when no
// object can be recovered.
func ParseObject(raw string) (map[string]interface{}, bool) {
	text := stripCodeFence(strings.TrimSpace(raw))

	if obj, ok := decodeObject(text); ok {
		return obj, true
	}

	// Fall back to the first {...} span in the text.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	return decodeObject(text[start : end+1])
}

// decodeObject unmarshals a JSON object keeping numbers as json.Number so
// numeric canonical values round-trip without float formatting.
func decodeObject(text string) (map[string]interface{}, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, false
	}
	return obj, true
}

// stripCodeFence removes a surrounding markdown code fence, with or without a
// language tag.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := text[3:]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		body = body[idx+1:]
	}
	body = strings.TrimSpace(body)
	body = strings.TrimSuffix(body, "```")
	return strings.TrimSpace(body)
}

// scalarToString renders one extracted JSON value as a trimmed string.
// Nested {value: ...} shapes are unwrapped one level.
func scalarToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case map[string]interface{}:
		if inner, ok := t["value"]; ok {
			return scalarToString(inner)
		}
		return ""
	case nil:
		return ""
	default:
		return ""
	}
}

// splitMultiValue turns an extracted multi-select value into its parts:
// arrays are taken element-wise, strings are split on the supported
// delimiters. Parts are trimmed and de-duplicated preserving first-seen order.
func splitMultiValue(v interface{}) []string {
	var parts []string
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			parts = append(parts, scalarToString(item))
		}
	default:
		s := scalarToString(v)
		for _, d := range multiValueDelimiters {
			s = strings.ReplaceAll(s, d, "\x00")
		}
		parts = strings.Split(s, "\x00")
	}

	seen := make(map[string]bool, len(parts))
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
