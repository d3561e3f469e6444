package config

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// RenderEffective writes the resolved configuration to w as annotated TOML.
// Admin credentials are masked.
func RenderEffective(cfg *Config, w io.Writer) error {
	ew := &errWriter{w: w}

	if cfg.Path != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", cfg.Path)
	} else {
		ew.printf("# Effective configuration\n\n")
	}

	ew.printf("url        = %q\n", cfg.URL)
	ew.printf("token_file = %q\n", cfg.TokenFile)
	ew.printf("log_level  = %q\n", cfg.LogLevel)
	ew.printf("log_format = %q\n\n", cfg.LogFormat)

	ew.printf("[callback]\n")
	ew.printf("  port = %d\n", cfg.Callback.Port)
	ew.printf("  path = %q\n\n", cfg.Callback.Path)

	ew.printf("[import]\n")
	ew.printf("  parallel = %d\n\n", cfg.Import.Parallel)

	ew.printf("[upload]\n")
	ew.printf("  parallel = %d\n", cfg.Upload.Parallel)

	if cfg.Upload.Exclude != nil {
		ew.printf("  exclude  = [%s]\n", joinQuoted(cfg.Upload.Exclude))
	} else {
		ew.printf("  # exclude: built-in defaults\n")
	}

	ew.printf("\n[network]\n")
	ew.printf("  timeout     = %q\n", cfg.Network.Timeout)
	ew.printf("  max_retries = %d\n", cfg.Network.MaxRetries)

	if cfg.Network.UserAgent != "" {
		ew.printf("  user_agent  = %q\n", cfg.Network.UserAgent)
	}

	ew.printf("\n[journal]\n")
	ew.printf("  enabled = %t\n", cfg.Journal.Enabled)
	ew.printf("  path    = %q\n\n", cfg.Journal.ResolvedPath())

	renderAdmin(ew, &cfg.Admin)

	return ew.err
}

func renderAdmin(ew *errWriter, a *AdminConfig) {
	ew.printf("[admin]\n")
	ew.printf("  url  = %q\n", a.URL)
	ew.printf("  auth = %q\n", maskAuth(a.Auth))

	domains := make([]string, 0, len(a.Domains))
	for d := range a.Domains {
		domains = append(domains, d)
	}

	slices.Sort(domains)

	for _, d := range domains {
		ep := a.Domains[d]

		ew.printf("\n[admin.domains.%q]\n", d)

		if ep.URL != "" {
			ew.printf("  url  = %q\n", ep.URL)
		}

		if ep.Auth != "" {
			ew.printf("  auth = %q\n", maskAuth(ep.Auth))
		}
	}
}

// maskAuth keeps the user part of "user:password".
func maskAuth(auth string) string {
	if auth == "" {
		return ""
	}

	user, _, _ := strings.Cut(auth, ":")

	return user + ":****"
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
