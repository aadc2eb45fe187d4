package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrNoStore is returned when no store can be selected.
var ErrNoStore = errors.New("no store configured")

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags. It returns
// the selected store, validated and ready for use.
func Resolve(env EnvOverrides, cli CLIOverrides) (*ResolvedStore, error) {
	// 1. Config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Store name: CLI > env > default_store > the only store
	name, err := selectStore(cfg, env, cli)
	if err != nil {
		return nil, err
	}

	rs := &ResolvedStore{
		Name:    name,
		Store:   cfg.Stores[name],
		Logging: cfg.Logging,
		Network: cfg.Network,
	}

	// 4. Environment credentials win over the file.
	applyEnvCredentials(rs, env)

	if rs.BlockSize == "" {
		rs.BlockSize = defaultBlockSize
	}

	rs.BlockSizeBytes, err = parseBlockSize(rs.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("store %q: block_size: %w", name, err)
	}

	// 5. Validate the final result
	if err := ValidateResolved(rs); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return rs, nil
}

func selectStore(cfg *Config, env EnvOverrides, cli CLIOverrides) (string, error) {
	name := cli.Store
	if name == "" {
		name = env.Store
	}

	if name == "" {
		name = cfg.DefaultStore
	}

	if name == "" {
		switch len(cfg.Stores) {
		case 0:
			return "", fmt.Errorf("%w: add a [store.<name>] section to %s", ErrNoStore, DefaultConfigPath())
		case 1:
			for only := range cfg.Stores {
				return only, nil
			}
		default:
			return "", fmt.Errorf("%w: several stores defined (%s); pass --store or set default_store",
				ErrNoStore, strings.Join(storeNames(cfg), ", "))
		}
	}

	if _, ok := cfg.Stores[name]; !ok {
		return "", fmt.Errorf("%w: store %q not found in config", ErrNoStore, name)
	}

	return name, nil
}

func storeNames(cfg *Config) []string {
	names := make([]string, 0, len(cfg.Stores))
	for n := range cfg.Stores {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

func applyEnvCredentials(rs *ResolvedStore, env EnvOverrides) {
	if env.TenantID != "" {
		rs.TenantID = env.TenantID
	}

	if env.ClientID != "" {
		rs.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		rs.ClientSecret = env.ClientSecret
	}

	if env.Token != "" {
		rs.Token = env.Token
	}
}

// Timeouts returns the parsed network timeouts. Values were validated on load.
func (n NetworkConfig) Timeouts() (connect, data time.Duration) {
	connect, _ = time.ParseDuration(n.ConnectTimeout)
	data, _ = time.ParseDuration(n.DataTimeout)

	return connect, data
}
