// Package config loads service configuration in layers:
//  1. Built-in defaults
//  2. YAML file (explicit path or INKWELL_CONFIG)
//  3. INKWELL_* environment overrides
//  4. Validation
package config

import "time"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	SpeedLimit SpeedLimitConfig `yaml:"speed_limit"`
	BruteForce BruteForceConfig `yaml:"brute_force"`
	Audit      AuditConfig      `yaml:"audit"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`              // default: ":8080"
	GRPCAddr        string        `yaml:"grpc_addr"`         // empty disables the gRPC surface
	ReadTimeout     time.Duration `yaml:"read_timeout"`      // default: 15s
	WriteTimeout    time.Duration `yaml:"write_timeout"`     // default: 60s, must exceed speed_limit.max_delay
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`  // default: 10s
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`    // default: 10 MiB
	CORSOrigins     []string      `yaml:"cors_origins"`      // empty allows localhost origins only
	TrustedProxies  []string      `yaml:"trusted_proxies"`   // CIDRs whose X-Forwarded-For is honoured
	AdminAllowList  []string      `yaml:"admin_allow_list"`  // CIDRs or IPs; empty disables the check
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"` // empty selects in-memory stores
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty selects the in-memory counter store
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AuthConfig struct {
	Secret        string        `yaml:"secret"` // required, at least 32 bytes
	Issuer        string        `yaml:"issuer"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	LookupRetries int           `yaml:"lookup_retries"`
	LookupBackoff time.Duration `yaml:"lookup_backoff"`
}

type RateLimitConfig struct {
	Window     time.Duration `yaml:"window"`
	Max        int           `yaml:"max"`
	AuthWindow time.Duration `yaml:"auth_window"`
	AuthMax    int           `yaml:"auth_max"`
}

type SpeedLimitConfig struct {
	Window     time.Duration `yaml:"window"`
	DelayAfter int           `yaml:"delay_after"`
	Delay      time.Duration `yaml:"delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type BruteForceConfig struct {
	Lifetime time.Duration `yaml:"lifetime"`
	Login    PolicyConfig  `yaml:"login"`
	Register PolicyConfig  `yaml:"register"`
}

// PolicyConfig describes one endpoint class of the lockout.
type PolicyConfig struct {
	FreeRetries int           `yaml:"free_retries"`
	MinWait     time.Duration `yaml:"min_wait"`
	MaxWait     time.Duration `yaml:"max_wait"`
	FailClosed  bool          `yaml:"fail_closed"`
}

type AuditConfig struct {
	Policy    string `yaml:"policy"` // "fail_open" or "fail_closed"
	Workers   int    `yaml:"workers"`
	QueueSize int    `yaml:"queue_size"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    10 << 20,
		},
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{Prefix: "inkwell"},
		Auth: AuthConfig{
			Issuer:        "inkwell",
			TokenTTL:      7 * 24 * time.Hour,
			LookupRetries: 2,
			LookupBackoff: 50 * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Window:     15 * time.Minute,
			Max:        100,
			AuthWindow: 15 * time.Minute,
			AuthMax:    10,
		},
		SpeedLimit: SpeedLimitConfig{
			Window:     15 * time.Minute,
			DelayAfter: 50,
			Delay:      500 * time.Millisecond,
			MaxDelay:   20 * time.Second,
		},
		BruteForce: BruteForceConfig{
			Lifetime: 24 * time.Hour,
			Login: PolicyConfig{
				FreeRetries: 5,
				MinWait:     5 * time.Minute,
				MaxWait:     time.Hour,
				FailClosed:  true,
			},
			Register: PolicyConfig{
				FreeRetries: 3,
				MinWait:     10 * time.Minute,
				MaxWait:     2 * time.Hour,
			},
		},
		Audit: AuditConfig{
			Policy:    "fail_open",
			Workers:   4,
			QueueSize: 1024,
		},
	}
}
