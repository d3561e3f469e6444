package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"url scheme", func(c *Config) { c.URL = "alice.mycozy.cloud" }, "url: must be an http(s) URL"},
		{"url host", func(c *Config) { c.URL = "https://" }, "url: must be an http(s) URL"},
		{"empty token file", func(c *Config) { c.TokenFile = "" }, "token_file"},
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"port high", func(c *Config) { c.Callback.Port = 70000 }, "callback.port"},
		{"path", func(c *Config) { c.Callback.Path = "do_access" }, "callback.path"},
		{"import parallel", func(c *Config) { c.Import.Parallel = 0 }, "import.parallel"},
		{"upload parallel", func(c *Config) { c.Upload.Parallel = 65 }, "upload.parallel"},
		{"exclude pattern", func(c *Config) { c.Upload.Exclude = []string{"[unclosed"} }, "upload.exclude"},
		{"timeout short", func(c *Config) { c.Network.Timeout = "10ms" }, "network.timeout: must be at least"},
		{"retries", func(c *Config) { c.Network.MaxRetries = -1 }, "network.max_retries"},
		{"admin url", func(c *Config) { c.Admin.URL = "localhost:6060" }, "admin.url"},
		{"admin auth", func(c *Config) { c.Admin.Auth = "nopassword" }, "admin.auth"},
		{"domain auth", func(c *Config) {
			c.Admin.Domains = map[string]AdminEndpoint{"d": {Auth: "x"}}
		}, `admin.domains."d".auth`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}
