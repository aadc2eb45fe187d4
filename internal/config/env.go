package config

import "os"

// Environment variable names for overrides. The AZURE_* names match the
// ones the Azure SDKs read for service principals.
const (
	EnvConfig       = "ADLFS_CONFIG"
	EnvStore        = "ADLFS_STORE"
	EnvTenantID     = "AZURE_TENANT_ID"
	EnvClientID     = "AZURE_CLIENT_ID"
	EnvClientSecret = "AZURE_CLIENT_SECRET"
	EnvToken        = "ADLFS_TOKEN"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath   string
	Store        string
	TenantID     string
	ClientID     string
	ClientSecret string
	Token        string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		Store:        os.Getenv(EnvStore),
		TenantID:     os.Getenv(EnvTenantID),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		Token:        os.Getenv(EnvToken),
	}
}
