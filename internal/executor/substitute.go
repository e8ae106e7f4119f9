package executor

import (
	"encoding/json"
	"regexp"
)

// stepRefRe matches $step[<id>] with an optional .<field> suffix.
var stepRefRe = regexp.MustCompile(`\$step\[([a-zA-Z0-9_\-]+)\](?:\.([a-zA-Z0-9_]+))?`)

// enrichInput substitutes $step[id].field references in string leaves with
// prior step outputs. Unresolvable references are left verbatim: missing data
// surfaces as a missing artifact at verification time instead of a
// substitution failure here.
func enrichInput(input map[string]any, outputs map[string]any) map[string]any {
	if input == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = enrichValue(v, outputs)
	}
	return out
}

func enrichValue(v any, outputs map[string]any) any {
	switch t := v.(type) {
	case string:
		return substitute(t, outputs)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = enrichValue(inner, outputs)
		}
		return m
	case []any:
		a := make([]any, len(t))
		for i := range t {
			a[i] = enrichValue(t[i], outputs)
		}
		return a
	default:
		return v
	}
}

func substitute(s string, outputs map[string]any) string {
	return stepRefRe.ReplaceAllStringFunc(s, func(m string) string {
		groups := stepRefRe.FindStringSubmatch(m)
		id, field := groups[1], groups[2]
		out, ok := outputs[id]
		if !ok {
			return m
		}
		if field != "" && field != "output" {
			rec, ok := out.(map[string]any)
			if !ok {
				return m
			}
			sub, ok := rec[field]
			if !ok {
				return m
			}
			return stringify(sub)
		}
		return stringify(out)
	})
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
