package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validTerminals() []TerminalConfig {
	return []TerminalConfig{
		{ID: "t1", Pool: "demo", Kind: "network", Address: "http://t1:9100", Capacity: 4},
		{ID: "t2", Pool: "live", Kind: "file", DropDir: "/var/drop/t2", Capacity: 2},
	}
}

func TestDefaultsValidateWithTerminals(t *testing.T) {
	cfg := Defaults()
	cfg.Terminals = validTerminals()
	cfg.Auth.Secret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Terminals = []TerminalConfig{
		{ID: "", Pool: "nope", Kind: "carrier-pigeon", Capacity: 0},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "id must not be empty", "unknown pool", "unknown kind", "capacity"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateNetworkTerminalNeedsSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Terminals = validTerminals()
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "auth:") {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
mode = "route"
log_level = "debug"

[[terminals]]
id = "demo-1"
pool = "demo"
kind = "file"
drop_dir = "/tmp/drop"
capacity = 3

[router]
attempt_timeout = "4s"

[server]
port = 9090
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIGBRIDGE_SERVER_PORT", "7070")
	t.Setenv("SIGBRIDGE_AUTH_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "route" || cfg.LogLevel != "debug" {
		t.Errorf("mode/log_level = %q/%q", cfg.Mode, cfg.LogLevel)
	}
	if len(cfg.Terminals) != 1 || cfg.Terminals[0].ID != "demo-1" {
		t.Errorf("terminals = %+v", cfg.Terminals)
	}
	if cfg.Router.AttemptTimeout.Duration != 4*time.Second {
		t.Errorf("attempt_timeout = %v", cfg.Router.AttemptTimeout.Duration)
	}
	// TOML sets 9090, env wins.
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("auth secret = %q", cfg.Auth.Secret)
	}
	// Untouched defaults survive the merge.
	if cfg.Health.DownThreshold != 5 {
		t.Errorf("down_threshold = %d", cfg.Health.DownThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Secret = "hmac-secret"
	cfg.Postgres.Password = "pgpass"
	cfg.Server.APIKey = "key"
	cfg.Notify.TelegramToken = "tg"

	red := RedactedConfig(&cfg)
	if red.Auth.Secret != "***" || red.Postgres.Password != "***" || red.Server.APIKey != "***" || red.Notify.TelegramToken != "***" {
		t.Errorf("secrets not redacted: %+v", red)
	}
	if cfg.Auth.Secret != "hmac-secret" {
		t.Error("original mutated")
	}
	// Empty fields stay empty rather than becoming the placeholder.
	if red.Redis.Password != "" {
		t.Errorf("redis password = %q", red.Redis.Password)
	}
}
