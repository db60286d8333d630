// Package credentials loads LLM provider API keys from a TOML file at a
// standard location, falling back to environment variables.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when the credentials file's permission
// bits are anything other than 0400.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds API keys for the llmprovider backends.
type Credentials struct {
	Anthropic *ProviderCreds `toml:"anthropic"`
	OpenAI    *ProviderCreds `toml:"openai"`
	Google    *ProviderCreds `toml:"google"`
}

// ProviderCreds holds credentials for a single provider.
type ProviderCreds struct {
	APIKey string `toml:"api_key"`
}

// StandardPaths returns candidate credential file locations, in priority
// order.
func StandardPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentmux", "credentials.toml"))
		paths = append(paths, filepath.Join(home, ".agentmux", "credentials.toml"))
	}
	return paths
}

// Load loads credentials from the first standard path that exists. Returns
// a nil Credentials (not an error) if none is found — providers then fall
// back to environment variables entirely.
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil
}

// LoadFile loads credentials from path. Refuses a file whose mode is not
// exactly 0400, including stricter modes (Unix only).
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)", ErrInsecurePermissions, path, mode)
		}
	}

	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// GetAPIKey returns the API key for a provider name, preferring the
// credentials file over the environment.
func (c *Credentials) GetAPIKey(provider string) string {
	if c != nil {
		switch provider {
		case "anthropic":
			if c.Anthropic != nil && c.Anthropic.APIKey != "" {
				return c.Anthropic.APIKey
			}
		case "openai":
			if c.OpenAI != nil && c.OpenAI.APIKey != "" {
				return c.OpenAI.APIKey
			}
		case "google":
			if c.Google != nil && c.Google.APIKey != "" {
				return c.Google.APIKey
			}
		}
	}
	return os.Getenv(envVarForProvider(provider))
}

func envVarForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	default:
		return ""
	}
}
