// Package options normalizes the stored representations of answer options.
//
// Legacy questionnaires were authored inconsistently: options arrive as a
// JSON array, a JSON object, a newline-separated list, a comma-separated
// list, or a bare scalar. Decode accepts all of them and never fails; the
// fallback order is a compatibility contract and must not be reordered.
package options

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Decode converts any stored option value into the canonical ordered list.
// Nil and empty inputs yield an empty list.
func Decode(raw any) []string {
	switch value := raw.(type) {
	case nil:
		return []string{}
	case []string:
		return compact(value)
	case []any:
		out := make([]string, 0, len(value))
		for _, item := range value {
			out = append(out, stringify(item))
		}
		return compact(out)
	case string:
		return DecodeString(value)
	case json.RawMessage:
		return DecodeString(string(value))
	case []byte:
		return DecodeString(string(value))
	default:
		return compact([]string{stringify(value)})
	}
}

// DecodeString applies the legacy fallback chain to a stored string:
// JSON array/object first, then newline list, then comma list, then the
// whole string as a single option.
func DecodeString(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []string{}
	}

	if trimmed[0] == '[' || trimmed[0] == '{' {
		if values, ok := decodeJSON(trimmed); ok {
			return compact(values)
		}
		// Malformed JSON falls through to the text heuristics.
	}

	if strings.Contains(trimmed, "\n") {
		return compact(strings.Split(trimmed, "\n"))
	}
	if strings.Contains(trimmed, ",") {
		return compact(strings.Split(trimmed, ","))
	}
	return []string{trimmed}
}

// Encode renders the canonical stored form: a JSON array of strings.
func Encode(opts []string) string {
	clean := compact(opts)
	encoded, err := json.Marshal(clean)
	if err != nil {
		// []string cannot fail to marshal.
		return "[]"
	}
	return string(encoded)
}

// decodeJSON parses a JSON array or object. Object values are returned in
// authored order, which a map decode would lose, so the token stream is
// walked directly.
func decodeJSON(raw string) ([]string, bool) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()

	token, err := decoder.Token()
	if err != nil {
		return nil, false
	}
	delim, ok := token.(json.Delim)
	if !ok {
		return nil, false
	}

	var values []string
	switch delim {
	case '[':
		for decoder.More() {
			var item any
			if err := decoder.Decode(&item); err != nil {
				return nil, false
			}
			values = append(values, stringify(item))
		}
	case '{':
		for decoder.More() {
			if _, err := decoder.Token(); err != nil { // key
				return nil, false
			}
			var item any
			if err := decoder.Decode(&item); err != nil {
				return nil, false
			}
			values = append(values, stringify(item))
		}
	default:
		return nil, false
	}

	if _, err := decoder.Token(); err != nil { // closing delimiter
		return nil, false
	}
	return values, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
