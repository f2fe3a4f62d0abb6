package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}
	if cfg.SettleDelay() != time.Second {
		t.Errorf("Expected 1s settle delay, got %v", cfg.SettleDelay())
	}
	if cfg.ZeroSizePolicy != ZeroSizeSkip {
		t.Errorf("Expected zero size policy %q, got %q", ZeroSizeSkip, cfg.ZeroSizePolicy)
	}
	if cfg.RequestMTU != 247 {
		t.Errorf("Expected MTU 247, got %d", cfg.RequestMTU)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Adapter != "hci0" {
		t.Errorf("Expected adapter hci0, got %s", cfg.Adapter)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"backend":"sim","settle_delay_ms":50,"zero_size_policy":"abort","events_addr":":9000"}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend != BackendSim {
		t.Errorf("Expected backend sim, got %s", cfg.Backend)
	}
	if cfg.SettleDelay() != 50*time.Millisecond {
		t.Errorf("Expected 50ms settle delay, got %v", cfg.SettleDelay())
	}
	if cfg.ZeroSizePolicy != ZeroSizeAbort {
		t.Errorf("Expected abort policy, got %s", cfg.ZeroSizePolicy)
	}
	// Untouched fields keep their defaults
	if cfg.NamePrefix != "dictofun" {
		t.Errorf("Expected name prefix dictofun, got %s", cfg.NamePrefix)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte("{not json"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed config")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("DICTOFUN_BACKEND", "sim")
	t.Setenv("DICTOFUN_SETTLE_DELAY_MS", "0")
	t.Setenv("DICTOFUN_ADDRESS", "AA:BB:CC:DD:EE:FF")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.Backend != BackendSim {
		t.Errorf("Expected backend sim, got %s", cfg.Backend)
	}
	if cfg.SettleDelayMs != 0 {
		t.Errorf("Expected settle delay 0, got %d", cfg.SettleDelayMs)
	}
	if cfg.DeviceAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("Expected address override, got %s", cfg.DeviceAddress)
	}

	t.Setenv("DICTOFUN_SETTLE_DELAY_MS", "soon")
	if err := cfg.ApplyEnv(); err == nil {
		t.Error("Expected error for non-numeric settle delay")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown backend", func(c *Config) { c.Backend = "usb" }},
		{"unknown policy", func(c *Config) { c.ZeroSizePolicy = "retry" }},
		{"negative settle", func(c *Config) { c.SettleDelayMs = -1 }},
		{"tiny mtu", func(c *Config) { c.RequestMTU = 10 }},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}
