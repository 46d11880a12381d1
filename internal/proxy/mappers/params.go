// Package mappers rewrites request bodies on their way upstream: stripping
// client-private parameters and applying per-provider model overrides.
package mappers

import (
	"encoding/json"
	"strings"
)

// defaultAllowlist names underscore-prefixed keys that are part of public
// API surfaces and must survive the filter.
var defaultAllowlist = map[string]struct{}{
	"_metadata":       {},
	"_stream_options": {},
}

// FilterPrivateParams removes JSON keys starting with an underscore from the
// body, recursively, including objects nested in arrays. Keys on the
// allowlist survive. Unparseable bodies pass through untouched; the upstream
// is the authority on rejecting them.
func FilterPrivateParams(body []byte, allowlist []string) []byte {
	if len(body) == 0 {
		return body
	}

	allow := make(map[string]struct{}, len(defaultAllowlist)+len(allowlist))
	for k := range defaultAllowlist {
		allow[k] = struct{}{}
	}
	for _, k := range allowlist {
		allow[k] = struct{}{}
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}

	filtered := filterValue(payload, allow)
	out, err := json.Marshal(filtered)
	if err != nil {
		return body
	}
	return out
}

func filterValue(v interface{}, allow map[string]struct{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			if strings.HasPrefix(k, "_") {
				if _, ok := allow[k]; !ok {
					delete(t, k)
					continue
				}
			}
			t[k] = filterValue(val, allow)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = filterValue(val, allow)
		}
		return t
	default:
		return v
	}
}
