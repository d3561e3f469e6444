package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Validation range constants.
const (
	minParallel   = 1
	maxParallel   = 64
	minPort       = 1
	maxPort       = 65535
	minTimeout    = 1 * time.Second
	maxMaxRetries = 10
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns all errors found.
// Every error is accumulated so a broken file is reported in one pass.
func Validate(cfg *Config) error {
	var errs []error

	if err := validateURL("url", cfg.URL); err != nil {
		errs = append(errs, err)
	}

	if cfg.TokenFile == "" {
		errs = append(errs, errors.New("token_file: must not be empty"))
	}

	errs = append(errs, validateLogging(cfg)...)
	errs = append(errs, validateCallback(&cfg.Callback)...)
	errs = append(errs, validateParallel("import.parallel", cfg.Import.Parallel)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateAdmin(&cfg.Admin)...)

	return errors.Join(errs...)
}

// validateURL accepts an empty value; commands that need an instance check
// for presence themselves.
func validateURL(field, raw string) error {
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: must be an http(s) URL with a host, got %q", field, raw)
	}

	return nil
}

func validateLogging(cfg *Config) []error {
	var errs []error

	if !slices.Contains(validLogLevels, cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), cfg.LogLevel))
	}

	if !slices.Contains(validLogFormats, cfg.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), cfg.LogFormat))
	}

	return errs
}

func validateCallback(c *CallbackConfig) []error {
	var errs []error

	if c.Port < minPort || c.Port > maxPort {
		errs = append(errs, fmt.Errorf("callback.port: must be between %d and %d, got %d", minPort, maxPort, c.Port))
	}

	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("callback.path: must start with \"/\", got %q", c.Path))
	}

	return errs
}

func validateParallel(field string, n int) []error {
	if n < minParallel || n > maxParallel {
		return []error{fmt.Errorf("%s: must be between %d and %d, got %d", field, minParallel, maxParallel, n)}
	}

	return nil
}

func validateUpload(u *UploadConfig) []error {
	errs := validateParallel("upload.parallel", u.Parallel)

	for _, pattern := range u.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("upload.exclude: invalid pattern %q", pattern))
		}
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	d, err := time.ParseDuration(n.Timeout)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("network.timeout: invalid duration %q: %w", n.Timeout, err))
	case d < minTimeout:
		errs = append(errs, fmt.Errorf("network.timeout: must be at least %s, got %s", minTimeout, d))
	}

	if n.MaxRetries < 0 || n.MaxRetries > maxMaxRetries {
		errs = append(errs, fmt.Errorf("network.max_retries: must be between 0 and %d, got %d", maxMaxRetries, n.MaxRetries))
	}

	return errs
}

func validateAdmin(a *AdminConfig) []error {
	var errs []error

	if err := validateURL("admin.url", a.URL); err != nil {
		errs = append(errs, err)
	}

	if a.Auth != "" && !strings.Contains(a.Auth, ":") {
		errs = append(errs, errors.New("admin.auth: must be user:password"))
	}

	for domain, ep := range a.Domains {
		field := fmt.Sprintf("admin.domains.%q", domain)

		if err := validateURL(field+".url", ep.URL); err != nil {
			errs = append(errs, err)
		}

		if ep.Auth != "" && !strings.Contains(ep.Auth, ":") {
			errs = append(errs, fmt.Errorf("%s.auth: must be user:password", field))
		}
	}

	return errs
}
