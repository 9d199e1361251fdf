package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration. configPath may be empty.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadYAMLFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	return os.Getenv("INKWELL_CONFIG")
}

// Fields absent from the file keep their defaults.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	s := &cfg.Server
	s.Addr = getEnvString("INKWELL_ADDR", s.Addr)
	s.GRPCAddr = getEnvString("INKWELL_GRPC_ADDR", s.GRPCAddr)
	s.ReadTimeout = getEnvDuration("INKWELL_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("INKWELL_WRITE_TIMEOUT", s.WriteTimeout)
	s.MaxBodyBytes = getEnvInt64("INKWELL_MAX_BODY_BYTES", s.MaxBodyBytes)
	s.CORSOrigins = getEnvList("INKWELL_CORS_ORIGINS", s.CORSOrigins)
	s.TrustedProxies = getEnvList("INKWELL_TRUSTED_PROXIES", s.TrustedProxies)
	s.AdminAllowList = getEnvList("INKWELL_ADMIN_ALLOW_LIST", s.AdminAllowList)

	cfg.Log.Level = getEnvString("INKWELL_LOG_LEVEL", cfg.Log.Level)
	cfg.Database.DSN = getEnvString("INKWELL_PG_DSN", cfg.Database.DSN)

	r := &cfg.Redis
	r.Addr = getEnvString("INKWELL_REDIS_ADDR", r.Addr)
	r.Password = getEnvString("INKWELL_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("INKWELL_REDIS_DB", r.DB)

	a := &cfg.Auth
	a.Secret = getEnvString("INKWELL_AUTH_SECRET", a.Secret)
	a.Issuer = getEnvString("INKWELL_AUTH_ISSUER", a.Issuer)
	a.TokenTTL = getEnvDuration("INKWELL_TOKEN_TTL", a.TokenTTL)

	rl := &cfg.RateLimit
	rl.Window = getEnvDuration("INKWELL_RATE_WINDOW", rl.Window)
	rl.Max = getEnvInt("INKWELL_RATE_MAX", rl.Max)
	rl.AuthWindow = getEnvDuration("INKWELL_AUTH_RATE_WINDOW", rl.AuthWindow)
	rl.AuthMax = getEnvInt("INKWELL_AUTH_RATE_MAX", rl.AuthMax)

	sl := &cfg.SpeedLimit
	sl.Window = getEnvDuration("INKWELL_SPEED_WINDOW", sl.Window)
	sl.DelayAfter = getEnvInt("INKWELL_SPEED_DELAY_AFTER", sl.DelayAfter)
	sl.Delay = getEnvDuration("INKWELL_SPEED_DELAY", sl.Delay)
	sl.MaxDelay = getEnvDuration("INKWELL_SPEED_MAX_DELAY", sl.MaxDelay)

	bf := &cfg.BruteForce
	bf.Lifetime = getEnvDuration("INKWELL_BRUTE_LIFETIME", bf.Lifetime)
	bf.Login.FreeRetries = getEnvInt("INKWELL_LOGIN_FREE_RETRIES", bf.Login.FreeRetries)
	bf.Login.FailClosed = getEnvBool("INKWELL_LOGIN_FAIL_CLOSED", bf.Login.FailClosed)
	bf.Register.FreeRetries = getEnvInt("INKWELL_REGISTER_FREE_RETRIES", bf.Register.FreeRetries)
	bf.Register.FailClosed = getEnvBool("INKWELL_REGISTER_FAIL_CLOSED", bf.Register.FailClosed)

	cfg.Audit.Policy = getEnvString("INKWELL_AUDIT_POLICY", cfg.Audit.Policy)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
