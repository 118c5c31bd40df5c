package suite

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// StripJSONKeys returns a body normalizer dropping the named keys from every
// object, however deeply nested. Numbers are kept as written so the result
// still decodes into integer fields. Bodies that are not JSON pass through.
func StripJSONKeys(keys ...string) func([]byte) []byte {
	drop := make(map[string]bool, len(keys))
	for _, key := range keys {
		drop[key] = true
	}

	return func(body []byte) []byte {
		if len(drop) == 0 || len(bytes.TrimSpace(body)) == 0 {
			return body
		}

		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return body
		}

		out, err := json.Marshal(without(doc, drop))
		if err != nil {
			return body
		}
		return out
	}
}

func without(value any, drop map[string]bool) any {
	switch v := value.(type) {
	case map[string]any:
		for key, child := range v {
			if drop[key] {
				delete(v, key)
				continue
			}
			v[key] = without(child, drop)
		}
	case []any:
		for i, elem := range v {
			v[i] = without(elem, drop)
		}
	}
	return value
}

// diffJSON renders both documents in canonical indented form when they differ.
// Non-JSON input falls back to the raw bytes.
func diffJSON(expected, actual []byte) string {
	var expAny, actAny interface{}
	if err := json.Unmarshal(expected, &expAny); err != nil {
		if bytes.Equal(expected, actual) {
			return ""
		}
		return fmt.Sprintf("expected raw:\n%s\nactual:\n%s\n", expected, actual)
	}
	if err := json.Unmarshal(actual, &actAny); err != nil {
		return fmt.Sprintf("expected:\n%s\nactual raw:\n%s\n", canonical(expAny), actual)
	}

	expCanonical := canonical(expAny)
	actCanonical := canonical(actAny)
	if bytes.Equal(expCanonical, actCanonical) {
		return ""
	}

	return fmt.Sprintf("expected:\n%s\nactual:\n%s\n", expCanonical, actCanonical)
}

func canonical(v interface{}) []byte {
	out, _ := json.MarshalIndent(v, "", "  ")
	return out
}
