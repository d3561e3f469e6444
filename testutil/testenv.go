// Package testutil provides shared helpers for the E2E tests and the token
// bootstrap command. It depends only on stdlib so that E2E tests (which
// drive the built binary and cannot import internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variables read by the live tests.
const (
	EnvTestURL          = "ACH_TEST_URL"
	EnvAllowedInstances = "ACH_ALLOWED_TEST_INSTANCES"
)

// TokenFileName is the token file the bootstrap command writes under
// .testdata/.
const TokenFileName = "token.json"

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// RequireAllowedInstance returns the instance URL from ACH_TEST_URL and
// crashes the process unless it is listed in ACH_ALLOWED_TEST_INSTANCES.
// Live tests create and delete documents, so they never run against an
// instance nobody opted in.
func RequireAllowedInstance() string {
	instance := strings.TrimRight(os.Getenv(EnvTestURL), "/")
	if instance == "" {
		fatalf("%s not set", EnvTestURL)
	}

	allowlist := os.Getenv(EnvAllowedInstances)
	if allowlist == "" {
		fatalf("%s not set\nExample: %s=https://test.cozy.localhost:8080", EnvAllowedInstances, EnvAllowedInstances)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.TrimRight(strings.TrimSpace(a), "/") == instance {
			return instance
		}
	}

	fatalf("%s=%q is not in %s=%q", EnvTestURL, instance, EnvAllowedInstances, allowlist)

	return ""
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

// CredentialDir returns .testdata/ under the module root, creating it.
func CredentialDir(moduleRoot string) string {
	dir := filepath.Join(moduleRoot, ".testdata")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fatalf("creating %s: %v", dir, err)
	}

	return dir
}

// RequireTokenFile returns the bootstrapped token file, crashing with a
// hint when it has not been created yet.
func RequireTokenFile(moduleRoot string) string {
	path := filepath.Join(moduleRoot, ".testdata", TokenFileName)
	if _, err := os.Stat(path); err != nil {
		fatalf("%s not found\nRun: go run ./cmd/integration-bootstrap --doctypes io.cozy.ach.e2e,io.cozy.files", path)
	}

	return path
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FATAL: "+format+"\n", args...)
	os.Exit(1)
}
