package executor

import (
	"reflect"
	"testing"
)

func TestSubstituteWholeOutput(t *testing.T) {
	outputs := map[string]any{"s1": "hello world"}
	in := enrichInput(map[string]any{"prompt": "use $step[s1].output here"}, outputs)
	if in["prompt"] != "use hello world here" {
		t.Fatalf("got %q", in["prompt"])
	}
}

func TestSubstituteSubField(t *testing.T) {
	outputs := map[string]any{"s1": map[string]any{"title": "My Page", "text": "body"}}
	in := enrichInput(map[string]any{"heading": "$step[s1].title"}, outputs)
	if in["heading"] != "My Page" {
		t.Fatalf("got %q", in["heading"])
	}
}

func TestSubstituteUnresolvedLeftVerbatim(t *testing.T) {
	cases := map[string]any{
		"missing step":  "$step[s9].output",
		"missing field": "$step[s1].nope",
	}
	outputs := map[string]any{"s1": map[string]any{"text": "x"}}
	for name, v := range cases {
		in := enrichInput(map[string]any{"k": v}, outputs)
		if in["k"] != v {
			t.Errorf("%s: reference must stay verbatim, got %q", name, in["k"])
		}
	}
}

func TestSubstituteNestedStructures(t *testing.T) {
	outputs := map[string]any{"s1": "value"}
	in := enrichInput(map[string]any{
		"nested": map[string]any{"inner": "$step[s1].output"},
		"list":   []any{"$step[s1].output", 42},
	}, outputs)

	nested := in["nested"].(map[string]any)
	if nested["inner"] != "value" {
		t.Errorf("nested map not enriched: %v", nested)
	}
	list := in["list"].([]any)
	if !reflect.DeepEqual(list, []any{"value", 42}) {
		t.Errorf("list not enriched: %v", list)
	}
}

func TestSubstituteNonStringOutputSerialized(t *testing.T) {
	outputs := map[string]any{"s1": map[string]any{"a": float64(1)}}
	in := enrichInput(map[string]any{"k": "$step[s1].output"}, outputs)
	if in["k"] != `{"a":1}` {
		t.Fatalf("got %q", in["k"])
	}
}

func TestSubstituteNonStringLeavesUntouched(t *testing.T) {
	in := enrichInput(map[string]any{"n": 7, "b": true}, map[string]any{})
	if in["n"] != 7 || in["b"] != true {
		t.Fatalf("non-string leaves changed: %v", in)
	}
}
