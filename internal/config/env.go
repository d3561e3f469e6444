package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "ACH_CONFIG"
	EnvURL       = "ACH_URL"
	EnvTokenFile = "ACH_TOKEN_FILE"
	EnvAdminAuth = "ACH_ADMIN_AUTH"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // ACH_CONFIG
	URL        string // ACH_URL
	TokenFile  string // ACH_TOKEN_FILE
	AdminAuth  string // ACH_ADMIN_AUTH: "user:password" for the default admin endpoint
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		URL:        os.Getenv(EnvURL),
		TokenFile:  os.Getenv(EnvTokenFile),
		AdminAuth:  os.Getenv(EnvAdminAuth),
	}
}

// CLIOverrides holds values from command-line flags. Pointer fields are nil
// when the flag was not given.
type CLIOverrides struct {
	ConfigPath string
	URL        *string
	TokenFile  *string
}
