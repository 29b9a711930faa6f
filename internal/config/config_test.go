package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 3025 || cfg.Domain != "bridgbox.cloud" || cfg.FetchLimit != 50 || cfg.StorageQuota != 5<<30 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridgbox.yaml")
	yamlDoc := strings.Join([]string{
		"http_port: 4000",
		"smtp_port: 2600",
		"domain: Mail.Example.ORG",
		"pow_difficulty: 2",
		"session_max_age: 12h",
		"legacy_pin: \"1234\"",
	}, "\n")
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BRIDGBOX_CONFIG", path)
	t.Setenv("SMTP_PORT", "2700")
	t.Setenv("POW_DIFFICULTY", "not-a-number")

	cfg, err := Load([]string{"--http-port", "5000"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 5000 {
		t.Fatalf("flag should win: http port = %d", cfg.HTTPPort)
	}
	if cfg.SMTPPort != 2700 {
		t.Fatalf("env should beat file: smtp port = %d", cfg.SMTPPort)
	}
	if cfg.PowDifficulty != 2 || cfg.SessionMaxAge != 12*time.Hour || cfg.LegacyPIN != "1234" {
		t.Fatalf("file values = %+v", cfg)
	}
	if cfg.Domain != "mail.example.org" {
		t.Fatalf("domain = %q", cfg.Domain)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "difficulty too high", args: []string{"--pow-difficulty", "65"}},
		{name: "bad port", env: map[string]string{"HTTP_PORT": "70000"}},
		{name: "short pin", env: map[string]string{"LEGACY_PIN": "12"}},
		{name: "unknown flag", args: []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(tt.args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
