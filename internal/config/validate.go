package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const minSecretLen = 32

// Validate checks cross-field constraints and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if len(strings.TrimSpace(c.Auth.Secret)) < minSecretLen {
		errs = append(errs, fmt.Errorf("auth.secret must be at least %d bytes", minSecretLen))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Auth.LookupRetries < 0 {
		errs = append(errs, errors.New("auth.lookup_retries must not be negative"))
	}

	if c.RateLimit.Window <= 0 || c.RateLimit.Max <= 0 {
		errs = append(errs, errors.New("rate_limit.window and rate_limit.max must be positive"))
	}
	if c.RateLimit.AuthWindow <= 0 || c.RateLimit.AuthMax <= 0 {
		errs = append(errs, errors.New("rate_limit.auth_window and rate_limit.auth_max must be positive"))
	}

	sl := c.SpeedLimit
	if sl.Window <= 0 || sl.DelayAfter < 0 || sl.Delay < 0 || sl.MaxDelay < sl.Delay {
		errs = append(errs, errors.New("speed_limit: window must be positive and max_delay >= delay >= 0"))
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= sl.MaxDelay {
		errs = append(errs, errors.New("server.write_timeout must exceed speed_limit.max_delay"))
	}

	if c.BruteForce.Lifetime <= 0 {
		errs = append(errs, errors.New("brute_force.lifetime must be positive"))
	}
	for name, p := range map[string]PolicyConfig{"login": c.BruteForce.Login, "register": c.BruteForce.Register} {
		if p.FreeRetries <= 0 {
			errs = append(errs, fmt.Errorf("brute_force.%s.free_retries must be positive", name))
		}
		if p.MinWait <= 0 || p.MaxWait < p.MinWait {
			errs = append(errs, fmt.Errorf("brute_force.%s: max_wait >= min_wait > 0 required", name))
		}
	}

	switch c.Audit.Policy {
	case "fail_open", "fail_closed":
	default:
		errs = append(errs, fmt.Errorf("audit.policy %q must be fail_open or fail_closed", c.Audit.Policy))
	}
	if c.Audit.Workers <= 0 || c.Audit.QueueSize <= 0 {
		errs = append(errs, errors.New("audit.workers and audit.queue_size must be positive"))
	}

	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not a CIDR", cidr))
		}
	}
	for _, entry := range c.Server.AdminAllowList {
		if net.ParseIP(entry) == nil {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				errs = append(errs, fmt.Errorf("server.admin_allow_list: %q is not an IP or CIDR", entry))
			}
		}
	}

	return errors.Join(errs...)
}
