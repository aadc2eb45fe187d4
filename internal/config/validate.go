package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"
)

// Validation range constants.
const (
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 5 * time.Second
	minBlockSize      = 64 * kibibyte
	maxBlockSize      = 100 * mebibyte
)

var validKinds = map[string]bool{"": true, "gen1": true, "gen2": true}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.DefaultStore != "" {
		if _, ok := cfg.Stores[cfg.DefaultStore]; !ok {
			errs = append(errs, fmt.Errorf("default_store: no [store.%s] section", cfg.DefaultStore))
		}
	}

	names := make([]string, 0, len(cfg.Stores))
	for name := range cfg.Stores {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		s := cfg.Stores[name]
		errs = append(errs, validateStore(name, &s)...)
	}

	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

func validateStore(name string, s *Store) []error {
	var errs []error

	prefix := "store." + name

	if !validKinds[s.Kind] {
		errs = append(errs, fmt.Errorf("%s.kind: must be gen1 or gen2, got %q", prefix, s.Kind))
	}

	if s.Account == "" && s.Endpoint == "" {
		errs = append(errs, fmt.Errorf("%s: account or endpoint is required", prefix))
	}

	if s.Kind == "gen1" && s.Container != "" {
		errs = append(errs, fmt.Errorf("%s.container: not supported for gen1 stores", prefix))
	}

	for field, value := range map[string]string{"endpoint": s.Endpoint, "authority": s.Authority} {
		if value == "" {
			continue
		}

		if u, err := url.Parse(value); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s.%s: must be an absolute URL, got %q", prefix, field, value))
		}
	}

	if s.BlockSize != "" {
		if _, err := parseBlockSize(s.BlockSize); err != nil {
			errs = append(errs, fmt.Errorf("%s.block_size: %w", prefix, err))
		}
	}

	return errs
}

func parseBlockSize(s string) (int64, error) {
	n, err := ParseSize(s)
	if err != nil {
		return 0, err
	}

	if n < minBlockSize || n > maxBlockSize {
		return 0, fmt.Errorf("must be between 64KiB and 100MiB, got %s", s)
	}

	return n, nil
}

// ValidateResolved checks constraints on the fully resolved store, after the
// environment and CLI layers have been applied. A store with a pre-fetched
// token needs no service principal.
func ValidateResolved(rs *ResolvedStore) error {
	if rs.Token != "" {
		return nil
	}

	var errs []error

	if rs.TenantID == "" {
		errs = append(errs, fmt.Errorf("store %q: tenant_id is required (or set %s)", rs.Name, EnvTenantID))
	}

	if rs.ClientID == "" {
		errs = append(errs, fmt.Errorf("store %q: client_id is required (or set %s)", rs.Name, EnvClientID))
	}

	if rs.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("store %q: client_secret is required (or set %s)", rs.Name, EnvClientSecret))
	}

	return errors.Join(errs...)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
