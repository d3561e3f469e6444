//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cozy-ach/testutil"
)

// e2eDocType is private to these tests; the run drops it at the end.
const e2eDocType = "io.cozy.ach.e2e"

var (
	binaryPath string
	instance   string
	tokenFile  string
)

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	instance = testutil.RequireAllowedInstance()
	tokenFile = testutil.RequireTokenFile(root)

	tmpDir, err := os.MkdirTemp("", "ach-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "ach")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = root
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// runCLI runs the binary with an isolated config dir and the bootstrapped
// token, failing the test on a non-zero exit.
func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := tryCLI(t, args...)
	if err != nil {
		t.Fatalf("ach %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

func tryCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	full := append([]string{"--url", instance, "--token-file", tokenFile}, args...)
	cmd := exec.Command(binaryPath, full...)
	cmd.Env = append(os.Environ(),
		"ACH_CONFIG="+filepath.Join(t.TempDir(), "none.toml"),
		"XDG_DATA_HOME="+dataHome(t),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

var sharedDataHome string

// dataHome keeps one journal for the whole test binary so history sees
// earlier runs.
func dataHome(t *testing.T) string {
	t.Helper()

	if sharedDataHome == "" {
		dir, err := os.MkdirTemp("", "ach-e2e-data-*")
		require.NoError(t, err)

		sharedDataHome = dir
	}

	return sharedDataHome
}

func TestE2E_ImportHistoryDrop(t *testing.T) {
	stamp := time.Now().UnixNano()

	t.Cleanup(func() {
		_, _, _ = tryCLI(t, "drop", e2eDocType, "--yes")
	})

	data := filepath.Join(t.TempDir(), "data.yaml")
	require.NoError(t, os.WriteFile(data, []byte(fmt.Sprintf(`%s:
  - name: first-%d
  - name: second-%d
  - name: third-%d
`, e2eDocType, stamp, stamp, stamp)), 0o600))

	t.Run("import", func(t *testing.T) {
		stdout, _ := runCLI(t, "import", data)
		assert.Contains(t, stdout, "Imported 3 "+e2eDocType+" documents")
	})

	t.Run("history", func(t *testing.T) {
		stdout, _ := runCLI(t, "history", "--limit", "1")
		assert.Contains(t, stdout, "import")
		assert.Contains(t, stdout, "succeeded")
	})

	t.Run("drop", func(t *testing.T) {
		stdout, _ := runCLI(t, "drop", e2eDocType, "--yes")
		assert.Contains(t, stdout, e2eDocType+": Deleted ")
	})
}

func TestE2E_ImportDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), fmt.Sprintf("ach-e2e-%d", time.Now().UnixNano()))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "hello.txt"), []byte("hello\n"), 0o600))

	stdout, stderr := runCLI(t, "importdir", root)
	assert.Contains(t, stdout, filepath.Base(root)+" content imported")
	assert.Contains(t, stderr, "0 errors")
}
