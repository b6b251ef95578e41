package ref

import "testing"

func TestParseCanonical(t *testing.T) {
	cases := []struct {
		in   string
		want Reference
	}{
		{"catalyst:local.example:1.0.0", Reference{TypeCatalyst, "local", "example", "1.0.0"}},
		{"c:local.example:1.0.0", Reference{TypeCatalyst, "local", "example", "1.0.0"}},
		{"r:local.echo:1.0.0", Reference{TypeReagent, "local", "echo", "1.0.0"}},
		{"f:acme.pipeline:2.3.1", Reference{TypeFormula, "acme", "pipeline", "2.3.1"}},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error %v", c.in, err)
		}
		if !got.Equal(c.want) {
			t.Errorf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseLegacyForms(t *testing.T) {
	cases := []struct {
		in   string
		want Reference
	}{
		{"name:version", Reference{"", "local", "name", "version"}},
		{"name", Reference{"", "local", "name", VersionLatest}},
		{"ns.name:version", Reference{"", "ns", "name", "version"}},
		{"ns.name", Reference{"", "ns", "name", VersionLatest}},
		{"local:name:version", Reference{"", "local", "name", "version"}},
		{"acme:widget:1.2.3", Reference{"", "acme", "widget", "1.2.3"}},
	}
	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error %v", c.in, err)
		}
		if !got.Equal(c.want) {
			t.Errorf("Parse(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestParseEmptyRejected(t *testing.T) {
	if _, err := Parse(""); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Parse("   "); err == nil {
		t.Error("expected error for whitespace-only input")
	}
}

func TestNormalizeRequiresType(t *testing.T) {
	if _, err := Normalize("name:version"); err == nil {
		t.Error("expected Normalize to reject a reference with no type")
	}
	r, err := Normalize("r:local.echo:1.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Type != TypeReagent {
		t.Errorf("Type = %q, want reagent", r.Type)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"r:local.echo:1.0.0", "catalyst:acme.widget:latest"}
	for _, in := range inputs {
		r1, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		r2, err := Normalize(r1.String())
		if err != nil {
			t.Fatalf("Normalize(%q) second pass: %v", r1.String(), err)
		}
		if !r1.Equal(r2) {
			t.Errorf("Normalize not idempotent: %+v != %+v", r1, r2)
		}
	}
}

func TestValidateVersion(t *testing.T) {
	if err := ValidateVersion("latest"); err != nil {
		t.Errorf("latest should validate: %v", err)
	}
	if err := ValidateVersion("1.0.0"); err != nil {
		t.Errorf("1.0.0 should validate: %v", err)
	}
	if err := ValidateVersion("1.0"); err == nil {
		t.Error("1.0 should be rejected (not three segments)")
	}
	if err := ValidateVersion("not-a-version"); err == nil {
		t.Error("garbage version should be rejected")
	}
}
