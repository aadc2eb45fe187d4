// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for adlfs. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags) over
// a set of named stores.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	DefaultStore string           `toml:"default_store"`
	Stores       map[string]Store `toml:"store"`
	Logging      LoggingConfig    `toml:"logging"`
	Network      NetworkConfig    `toml:"network"`
}

// Store describes one storage account (Gen2) or Datalake store (Gen1).
// Kind may be left empty; it is then inferred from the scheme of the first
// path a command operates on. Token is a pre-fetched access token; with it
// the service principal fields become optional, but the token cannot be
// renewed without them.
type Store struct {
	Kind         string `toml:"kind"`
	Account      string `toml:"account"`
	TenantID     string `toml:"tenant_id"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Token        string `toml:"token"`
	Container    string `toml:"container"`
	DNSSuffix    string `toml:"dns_suffix"`
	Endpoint     string `toml:"endpoint"`
	Authority    string `toml:"authority"`
	BlockSize    string `toml:"block_size"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// NetworkConfig controls HTTP client behavior.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty means "not specified".
type CLIOverrides struct {
	ConfigPath string // --config
	Store      string // --store
}

// ResolvedStore is the final, validated configuration for one command run.
type ResolvedStore struct {
	Name string
	Store
	BlockSizeBytes int64
	Logging        LoggingConfig
	Network        NetworkConfig
}
