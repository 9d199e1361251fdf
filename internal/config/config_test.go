package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestDefaultsMatchAbuseProfile(t *testing.T) {
	cfg := Defaults()
	if cfg.BruteForce.Login.FreeRetries != 5 || cfg.BruteForce.Login.MinWait != 5*time.Minute || cfg.BruteForce.Login.MaxWait != time.Hour {
		t.Fatalf("unexpected login policy: %+v", cfg.BruteForce.Login)
	}
	if !cfg.BruteForce.Login.FailClosed || cfg.BruteForce.Register.FailClosed {
		t.Fatal("login must fail closed and register must fail open by default")
	}
	if cfg.SpeedLimit.DelayAfter != 50 || cfg.SpeedLimit.Delay != 500*time.Millisecond || cfg.SpeedLimit.MaxDelay != 20*time.Second {
		t.Fatalf("unexpected speed limit: %+v", cfg.SpeedLimit)
	}
}

func TestLoadLayersYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlDoc := `
auth:
  secret: "` + testSecret + `"
  token_ttl: 2h
rate_limit:
  max: 5
  window: 1s
brute_force:
  login:
    free_retries: 3
`
	if err := os.WriteFile(path, []byte(yamlDoc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INKWELL_RATE_MAX", "7")
	t.Setenv("INKWELL_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Fatalf("expected token ttl from yaml, got %v", cfg.Auth.TokenTTL)
	}
	if cfg.RateLimit.Max != 7 || cfg.RateLimit.Window != time.Second {
		t.Fatalf("unexpected rate limit: %+v", cfg.RateLimit)
	}
	if cfg.BruteForce.Login.FreeRetries != 3 || cfg.BruteForce.Login.MaxWait != time.Hour {
		t.Fatalf("expected partial override of login policy, got %+v", cfg.BruteForce.Login)
	}
	if len(cfg.Server.TrustedProxies) != 2 {
		t.Fatalf("unexpected trusted proxies: %v", cfg.Server.TrustedProxies)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Secret = "short"
	cfg.Audit.Policy = "sometimes"
	cfg.Server.TrustedProxies = []string{"not-a-cidr"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"auth.secret", "audit.policy", "trusted_proxies"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestValidateWriteTimeoutCoversMaxDelay(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Secret = testSecret
	cfg.Server.WriteTimeout = 10 * time.Second
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "write_timeout") {
		t.Fatalf("expected write_timeout error, got %v", err)
	}
}
