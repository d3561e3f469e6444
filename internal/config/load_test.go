package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
url = "https://alice.mycozy.cloud"
token_file = "/tmp/ach-token.json"
log_level = "debug"
log_format = "json"

[callback]
port = 4444
path = "/cb"

[import]
parallel = 4

[upload]
parallel = 2
exclude = ["**/*.tmp"]

[network]
timeout = "2m"
max_retries = 5
user_agent = "ach-test/1"

[journal]
enabled = false
path = "/tmp/j.db"

[admin]
url = "http://localhost:6060"
auth = "admin:pw"

[admin.domains."bob.cozy.localhost:8080"]
url = "https://admin.example:6060"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "https://alice.mycozy.cloud", cfg.URL)
	assert.Equal(t, "/tmp/ach-token.json", cfg.TokenFile)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, CallbackConfig{Port: 4444, Path: "/cb"}, cfg.Callback)
	assert.Equal(t, 4, cfg.Import.Parallel)
	assert.Equal(t, 2, cfg.Upload.Parallel)
	assert.Equal(t, []string{"**/*.tmp"}, cfg.Upload.Exclude)
	assert.Equal(t, "2m0s", cfg.Network.TimeoutDuration().String())
	assert.Equal(t, 5, cfg.Network.MaxRetries)
	assert.Equal(t, "ach-test/1", cfg.Network.UserAgent)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/j.db", cfg.Journal.ResolvedPath())

	bob := cfg.Admin.For("bob.cozy.localhost:8080")
	assert.Equal(t, "https://admin.example:6060", bob.URL)
	assert.Equal(t, "admin:pw", bob.Auth)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[import]\nparallel = 3\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.Import.Parallel = 3
	want.Path = path
	assert.Equal(t, want, cfg)
}

func TestLoad_SyntaxError(t *testing.T) {
	path := writeTestConfig(t, "url = \n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAccumulate(t *testing.T) {
	path := writeTestConfig(t, `
log_level = "loud"
[callback]
port = 0
[network]
timeout = "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "callback.port")
	assert.Contains(t, err.Error(), "network.timeout")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, err := LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, defaultCallbackPort, cfg.Callback.Port)
}

func TestResolve_Precedence(t *testing.T) {
	path := writeTestConfig(t, `
url = "https://file.example"
token_file = "file-token.json"
[admin]
auth = "file:pw"
`)

	t.Run("file only", func(t *testing.T) {
		cfg, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
		require.NoError(t, err)
		assert.Equal(t, "https://file.example", cfg.URL)
		assert.Equal(t, "file-token.json", cfg.TokenFile)
		assert.Equal(t, "file:pw", cfg.Admin.Auth)
	})

	t.Run("env beats file", func(t *testing.T) {
		cfg, err := Resolve(EnvOverrides{
			ConfigPath: path,
			URL:        "https://env.example",
			TokenFile:  "env-token.json",
			AdminAuth:  "env:pw",
		}, CLIOverrides{})
		require.NoError(t, err)
		assert.Equal(t, "https://env.example", cfg.URL)
		assert.Equal(t, "env-token.json", cfg.TokenFile)
		assert.Equal(t, "env:pw", cfg.Admin.Auth)
	})

	t.Run("flags beat env", func(t *testing.T) {
		url := "https://flag.example"
		tok := "flag-token.json"

		cfg, err := Resolve(
			EnvOverrides{ConfigPath: "/nonexistent/ignored.toml", URL: "https://env.example"},
			CLIOverrides{ConfigPath: path, URL: &url, TokenFile: &tok},
		)
		require.NoError(t, err)
		assert.Equal(t, path, cfg.Path)
		assert.Equal(t, "https://flag.example", cfg.URL)
		assert.Equal(t, "flag-token.json", cfg.TokenFile)
	})
}

func TestResolve_RejectsBadOverrideURL(t *testing.T) {
	bad := "ftp://nope"

	_, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")},
		CLIOverrides{URL: &bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url")
}

func TestResolve_ExpandsTildeInTokenFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	tok := "~/tokens/alice.json"

	cfg, err := Resolve(EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")},
		CLIOverrides{TokenFile: &tok})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "tokens", "alice.json"), cfg.TokenFile)
}
