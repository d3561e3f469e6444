package main

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cozy-ach/internal/tokenfile"
)

func TestLogin_SavesToken(t *testing.T) {
	inst := newFakeInstance(t)
	port := freePort(t)
	env := newTestEnv(t, inst.URL(), fmt.Sprintf("[callback]\nport = %d\n", port))

	_, stderr, err := runCLI(t, simulatedBrowser(t), "login", "--doctypes", "io.cozy.contacts,io.cozy.files")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Authorizing "+inst.URL()+" for io.cozy.contacts, io.cozy.files")
	assert.Contains(t, stderr, "Token saved to "+env.tokenPath)

	tok, err := tokenfile.NewStore(env.tokenPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", tok)
}

func TestLogin_RequiresDoctypes(t *testing.T) {
	newTestEnv(t, "https://alice.example", "")

	_, _, err := runCLI(t, noBrowser, "login")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doctypes")
}

func TestLogin_RequiresURL(t *testing.T) {
	newTestEnv(t, "", "")

	_, _, err := runCLI(t, noBrowser, "login", "--doctypes", "io.cozy.notes")
	require.ErrorIs(t, err, errNoURL)
}

func TestLogout_RemovesToken(t *testing.T) {
	env := newTestEnv(t, "https://alice.example", "")
	env.saveToken(t, "tok")

	_, stderr, err := runCLI(t, noBrowser, "logout")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Logged out.")

	_, err = os.Stat(env.tokenPath)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// A second logout with nothing stored is fine.
	_, _, err = runCLI(t, noBrowser, "logout")
	require.NoError(t, err)
}

func TestObtainClient_NoStoredToken(t *testing.T) {
	newTestEnv(t, "https://alice.example", "")

	data := writeData(t, `{"io.cozy.contacts":[{"fn":"A"}]}`)

	_, _, err := runCLI(t, noBrowser, "import", data)
	require.ErrorIs(t, err, errNoStoredToken)
	assert.EqualError(t, err, "no stored token found; use the new-token option (-t)")
}

func TestObtainClient_CorruptToken(t *testing.T) {
	env := newTestEnv(t, "https://alice.example", "")
	require.NoError(t, os.WriteFile(env.tokenPath, []byte("not json"), 0o600))

	data := writeData(t, `{"io.cozy.contacts":[{"fn":"A"}]}`)

	_, _, err := runCLI(t, noBrowser, "import", data)

	var perr *tokenfile.ParseError
	require.ErrorAs(t, err, &perr)
}
