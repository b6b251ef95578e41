package config

import "testing"

func TestSetDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()

	if c.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("HTTPAddr = %q, want 127.0.0.1:8080", c.Server.HTTPAddr)
	}
	if c.Server.ProtocolVersion != "2025-11-25" {
		t.Errorf("ProtocolVersion = %q, want 2025-11-25", c.Server.ProtocolVersion)
	}
	if c.Storage.BaseDir != "./cyfr-data" {
		t.Errorf("BaseDir = %q, want ./cyfr-data", c.Storage.BaseDir)
	}
	if c.Auth.SessionTTLHours != 24 {
		t.Errorf("SessionTTLHours = %d, want 24", c.Auth.SessionTTLHours)
	}
	if c.Auth.PBKDF2Iterations != 100_000 {
		t.Errorf("PBKDF2Iterations = %d, want 100000", c.Auth.PBKDF2Iterations)
	}
	if c.Execution.CatalystTimeout != "3m" || c.Execution.ReagentTimeout != "1m" || c.Execution.FormulaTimeout != "5m" {
		t.Errorf("unexpected execution timeout defaults: %+v", c.Execution)
	}
}

func TestSetDevDefaultsOnlyAppliesInDevMode(t *testing.T) {
	var c Config
	c.SetDevDefaults()
	if c.Auth.SecretKeyBase != "" {
		t.Error("SetDevDefaults should not populate fields when DevMode is false")
	}

	c.DevMode = true
	c.SetDevDefaults()
	if c.Auth.SecretKeyBase == "" {
		t.Error("SetDevDefaults should populate a dev secret key base when DevMode is true")
	}
}

func TestValidateRequiresSecretKeyBaseOutsideDevMode(t *testing.T) {
	var c Config
	c.SetDefaults()
	if err := c.Validate(); err == nil {
		t.Error("expected validation error when secret_key_base is empty outside dev mode")
	}

	c.DevMode = true
	c.SetDevDefaults()
	if err := c.Validate(); err != nil {
		t.Errorf("unexpected validation error in dev mode: %v", err)
	}
}
