package policy

import "testing"

func TestMatchDomain(t *testing.T) {
	cases := []struct {
		pattern, candidate string
		want               bool
	}{
		{"api.example.com", "api.example.com", true},
		{"*.example.com", "api.example.com", true},
		{"*.example.com", "example.com", false},
		{"*.example.com", "evil.com", false},
		{"api.example.com", "api.evil.com", false},
	}
	for _, c := range cases {
		if got := MatchDomain(c.pattern, c.candidate); got != c.want {
			t.Errorf("MatchDomain(%q, %q) = %v, want %v", c.pattern, c.candidate, got, c.want)
		}
	}
}

func TestMatchTool(t *testing.T) {
	cases := []struct {
		pattern, candidate string
		want               bool
	}{
		{"registry.search", "registry.search", true},
		{"registry.*", "registry.search", true},
		{"registry.*", "registry", false},
		{"registry.*", "secrets.get", false},
	}
	for _, c := range cases {
		if got := MatchTool(c.pattern, c.candidate); got != c.want {
			t.Errorf("MatchTool(%q, %q) = %v, want %v", c.pattern, c.candidate, got, c.want)
		}
	}
}

func TestStoragePathAllowedEmptyAllowsAll(t *testing.T) {
	if !StoragePathAllowed(nil, "anything") {
		t.Error("empty allow-list should allow all")
	}
}

func TestStoragePathAllowedPrefix(t *testing.T) {
	allowed := []string{"executions/", "cache/"}
	if !StoragePathAllowed(allowed, "executions/exec_1/out.json") {
		t.Error("expected prefix match to allow")
	}
	if StoragePathAllowed(allowed, "users/secret.txt") {
		t.Error("expected non-matching prefix to deny")
	}
}

func TestParseDurationInvalid(t *testing.T) {
	if _, err := ParseDuration("banana"); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestParseSizeVariants(t *testing.T) {
	cases := map[string]int64{
		"512":   512,
		"10B":   10,
		"4KB":   4 << 10,
		"16MB":  16 << 20,
		"1GB":   1 << 30,
	}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil {
			t.Fatalf("ParseSize(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseSizeInvalid(t *testing.T) {
	if _, err := ParseSize("not-a-size"); err == nil {
		t.Error("expected error for invalid size")
	}
}

func TestParseRateLimit(t *testing.T) {
	rl, err := ParseRateLimit("100/1m")
	if err != nil {
		t.Fatalf("ParseRateLimit: %v", err)
	}
	if rl.Requests != 100 || rl.Window.String() != "1m0s" {
		t.Errorf("ParseRateLimit = %+v", rl)
	}
}

func TestParseRateLimitInvalid(t *testing.T) {
	if _, err := ParseRateLimit("no-slash"); err == nil {
		t.Error("expected error for missing '/'")
	}
	if _, err := ParseRateLimit("abc/1m"); err == nil {
		t.Error("expected error for non-numeric count")
	}
}

func TestDefaultPolicyTimeoutsByType(t *testing.T) {
	if Default("r1", TypeCatalyst).Timeout.String() != "3m0s" {
		t.Error("catalyst default timeout should be 3m")
	}
	if Default("r1", TypeReagent).Timeout.String() != "1m0s" {
		t.Error("reagent default timeout should be 1m")
	}
	if Default("r1", TypeFormula).Timeout.String() != "5m0s" {
		t.Error("formula default timeout should be 5m")
	}
}
