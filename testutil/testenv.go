// Package testutil provides environment helpers for the live E2E tests. It
// depends only on stdlib so that E2E tests (which cannot import internal/)
// can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables naming the live store the E2E suite runs against.
const (
	EnvAccount   = "ADLFS_E2E_ACCOUNT"
	EnvContainer = "ADLFS_E2E_CONTAINER"
	EnvTenantID  = "AZURE_TENANT_ID"
	EnvClientID  = "AZURE_CLIENT_ID"
	EnvSecret    = "AZURE_CLIENT_SECRET"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// A missing file is not an error (CI sets env vars directly). Variables
// already set in the environment win over the file.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if !ok || os.Getenv(key) != "" {
			continue
		}

		os.Setenv(key, value)
	}
}

func parseDotEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	key, value, ok = strings.Cut(strings.TrimPrefix(line, "export "), "=")
	if !ok {
		return "", "", false
	}

	return strings.TrimSpace(key), strings.Trim(strings.TrimSpace(value), `"'`), true
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// LiveStore describes the Gen2 account used by the E2E suite.
type LiveStore struct {
	Account      string
	Container    string
	TenantID     string
	ClientID     string
	ClientSecret string
}

// LiveStoreFromEnv reads the live store settings. It crashes the process
// with an actionable message when any of them is missing, because the
// suite cannot do anything useful without a real account.
func LiveStoreFromEnv() LiveStore {
	s := LiveStore{
		Account:      os.Getenv(EnvAccount),
		Container:    os.Getenv(EnvContainer),
		TenantID:     os.Getenv(EnvTenantID),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvSecret),
	}

	var missing []string

	for name, v := range map[string]string{
		EnvAccount: s.Account, EnvContainer: s.Container,
		EnvTenantID: s.TenantID, EnvClientID: s.ClientID, EnvSecret: s.ClientSecret,
	} {
		if v == "" {
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "FATAL: live store not configured, missing %s\n", strings.Join(missing, ", "))
		fmt.Fprintln(os.Stderr, "Set them in .env or as environment variables.")
		os.Exit(1)
	}

	return s
}

// WriteConfig writes an adlfs config file with a single store named "e2e"
// into dir and returns its path. Credentials stay in the environment.
func WriteConfig(dir string, s LiveStore) (string, error) {
	content := fmt.Sprintf("default_store = \"e2e\"\n\n[store.e2e]\nkind = \"gen2\"\naccount = %q\ncontainer = %q\n",
		s.Account, s.Container)

	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}

	return path, nil
}
