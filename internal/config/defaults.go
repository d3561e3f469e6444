package config

// Default values, chosen so ach works against a local development stack
// without any config file.
const (
	defaultTokenFile     = "token.json"
	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"
	defaultCallbackPort  = 3333
	defaultCallbackPath  = "/do_access"
	defaultParallel      = 8
	defaultTimeout       = "60s"
	defaultMaxRetries    = 3
	defaultAdminURL      = "http://localhost:6060"
	defaultJournalEnable = true
)

// DefaultConfig returns a Config populated with all default values.
// Upload.Exclude stays nil, which means "use the built-in exclude list".
func DefaultConfig() *Config {
	return &Config{
		TokenFile: defaultTokenFile,
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Callback: CallbackConfig{
			Port: defaultCallbackPort,
			Path: defaultCallbackPath,
		},
		Import: ImportConfig{Parallel: defaultParallel},
		Upload: UploadConfig{Parallel: defaultParallel},
		Network: NetworkConfig{
			Timeout:    defaultTimeout,
			MaxRetries: defaultMaxRetries,
		},
		Journal: JournalConfig{Enabled: defaultJournalEnable},
		Admin:   AdminConfig{URL: defaultAdminURL},
	}
}
