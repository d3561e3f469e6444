// Package config implements TOML configuration loading, validation, and
// override resolution for ach. A single config file configures the target
// instance, the local callback the OAuth redirect lands on, import and
// upload fan-out, networking, the run journal, and admin endpoints.
package config

import (
	"strings"
	"time"
)

// Config is the top-level configuration structure, mapping directly to the
// TOML file. Sections are tables; the handful of global settings sit at the
// top level.
type Config struct {
	URL       string `toml:"url"`
	TokenFile string `toml:"token_file"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	Callback CallbackConfig `toml:"callback"`
	Import   ImportConfig   `toml:"import"`
	Upload   UploadConfig   `toml:"upload"`
	Network  NetworkConfig  `toml:"network"`
	Journal  JournalConfig  `toml:"journal"`
	Admin    AdminConfig    `toml:"admin"`

	// Path is the file the config was read from, or the path that would
	// have been read when no file exists. Not part of the file format.
	Path string `toml:"-"`
}

// CallbackConfig controls the loopback listener that receives the
// authorization redirect.
type CallbackConfig struct {
	Port int    `toml:"port"`
	Path string `toml:"path"`
}

// ImportConfig controls document import fan-out.
type ImportConfig struct {
	Parallel int `toml:"parallel"`
}

// UploadConfig controls directory uploads.
type UploadConfig struct {
	Parallel int      `toml:"parallel"`
	Exclude  []string `toml:"exclude"`
}

// NetworkConfig controls the HTTP client used against the instance.
type NetworkConfig struct {
	Timeout    string `toml:"timeout"`
	MaxRetries int    `toml:"max_retries"`
	UserAgent  string `toml:"user_agent"`
}

// TimeoutDuration parses Timeout. Validation has already rejected bad
// values, so a parse failure falls back to the default.
func (n NetworkConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(n.Timeout)
	if err != nil {
		d, _ = time.ParseDuration(defaultTimeout) //nolint:errcheck // constant
	}

	return d
}

// JournalConfig controls the local run journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// ResolvedPath returns Path, or the journal file under the data directory
// when Path is empty.
func (j JournalConfig) ResolvedPath() string {
	if j.Path != "" {
		return expandTilde(j.Path)
	}

	return DefaultJournalPath()
}

// AdminEndpoint locates one admin API.
type AdminEndpoint struct {
	URL  string `toml:"url"`
	Auth string `toml:"auth"`
}

// AdminConfig is the default admin endpoint plus per-domain overrides,
// written as [admin.domains."alice.cozy.localhost:8080"] tables.
type AdminConfig struct {
	URL     string                   `toml:"url"`
	Auth    string                   `toml:"auth"`
	Domains map[string]AdminEndpoint `toml:"domains"`
}

// For returns the endpoint to use for domain. Fields set on a matching
// domain table replace the defaults; unset ones are inherited.
func (a AdminConfig) For(domain string) AdminEndpoint {
	ep := AdminEndpoint{URL: a.URL, Auth: a.Auth}

	override, ok := a.Domains[domain]
	if !ok {
		return ep
	}

	if override.URL != "" {
		ep.URL = override.URL
	}

	if override.Auth != "" {
		ep.Auth = override.Auth
	}

	return ep
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home := homeDir()
	if home == "" {
		return path
	}

	return home + path[1:]
}
