package secret

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestMaskPlainOccurrence(t *testing.T) {
	got := Mask("the key is sk_live_abcd1234", []string{"sk_live_abcd1234"})
	want := "the key is " + RedactedToken
	if got != want {
		t.Errorf("Mask = %q, want %q", got, want)
	}
}

func TestMaskEncodedVariants(t *testing.T) {
	secretVal := "topsecretvalue"
	b64 := base64.StdEncoding.EncodeToString([]byte(secretVal))
	hexVal := hex.EncodeToString([]byte(secretVal))

	cases := []string{
		"raw: " + secretVal,
		"b64: " + b64,
		"hex: " + hexVal,
	}
	for _, c := range cases {
		got := Mask(c, []string{secretVal})
		if got == c {
			t.Errorf("Mask(%q) did not redact any variant", c)
		}
	}
}

func TestMaskShortSecretsLeftAlone(t *testing.T) {
	got := Mask("the value is ok", []string{"ok"})
	if got != "the value is ok" {
		t.Errorf("short secrets should not be masked, got %q", got)
	}
}

func TestMaskRecursesIntoMapsAndLists(t *testing.T) {
	value := map[string]any{
		"output": []any{"contains supersecretvalue here", "clean"},
		"nested": map[string]any{"inner": "supersecretvalue"},
	}
	masked := Mask(value, []string{"supersecretvalue"})
	m, ok := masked.(map[string]any)
	if !ok {
		t.Fatalf("Mask should return map[string]any, got %T", masked)
	}
	list, ok := m["output"].([]any)
	if !ok || list[0] != "contains "+RedactedToken+" here" {
		t.Errorf("list element not masked: %+v", m["output"])
	}
	nested, ok := m["nested"].(map[string]any)
	if !ok || nested["inner"] != RedactedToken {
		t.Errorf("nested map value not masked: %+v", m["nested"])
	}
}

func TestMaskNoSecretsReturnsUnchanged(t *testing.T) {
	value := map[string]any{"a": 1, "b": "clean"}
	masked := Mask(value, nil)
	m := masked.(map[string]any)
	if m["a"] != 1 || m["b"] != "clean" {
		t.Errorf("Mask with no secrets should not alter value, got %+v", m)
	}
}
