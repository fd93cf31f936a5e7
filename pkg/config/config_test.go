package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "azmove.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Output.Mode != "violations-only" {
		t.Errorf("default output mode = %q", cfg.Output.Mode)
	}
	if cfg.ARM.MaxAttempts != 3 {
		t.Errorf("default max attempts = %d", cfg.ARM.MaxAttempts)
	}
	if cfg.ARM.Timeout != 60*time.Second {
		t.Errorf("default timeout = %v", cfg.ARM.Timeout)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
subscription: 7b1e3f7a-1f44-4c2e-9f0a-55aa11bb22cc
targetGroup: corp
resourceTypes:
  - Microsoft.Network/networkInterfaces
portalMode: true
output:
  mode: all
  format: xlsx
  path: report.xlsx
parallel:
  enabled: true
  workers: 8
arm:
  maxAttempts: 5
  timeout: 30s
store:
  path: /tmp/azmove.db
telemetry:
  logLevel: debug
  logFormat: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TargetGroup != "corp" {
		t.Errorf("target group = %q", cfg.TargetGroup)
	}
	if !cfg.PortalMode {
		t.Error("portal mode should be enabled")
	}
	if cfg.Output.Mode != "all" || cfg.Output.Format != "xlsx" {
		t.Errorf("output = %+v", cfg.Output)
	}
	if cfg.Parallel.Workers != 8 {
		t.Errorf("workers = %d", cfg.Parallel.Workers)
	}
	if cfg.ARM.MaxAttempts != 5 || cfg.ARM.Timeout != 30*time.Second {
		t.Errorf("arm = %+v", cfg.ARM)
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.Telemetry.LogLevel)
	}
	// Untouched defaults survive partial files.
	if cfg.Telemetry.MetricsAddress != ":9090" {
		t.Errorf("metrics address = %q", cfg.Telemetry.MetricsAddress)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "subscriptionid: not-a-key\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad subscription", "subscription: not-a-uuid\n"},
		{"bad output mode", "output:\n  mode: everything\n"},
		{"bad format", "output:\n  format: pdf\n"},
		{"negative workers", "parallel:\n  workers: -2\n"},
		{"bad log level", "telemetry:\n  logLevel: loud\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
