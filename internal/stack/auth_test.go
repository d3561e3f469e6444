package stack

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cozy-ach/internal/tokenfile"
)

// fakeStack serves the registration and token endpoints of an instance and
// records what it was sent.
type fakeStack struct {
	srv *httptest.Server

	registered   ClientMetadata
	tokenStatus  int
	grantedCodes atomic.Int32
	dataCalls    atomic.Int32
}

func newFakeStack(t *testing.T) *fakeStack {
	t.Helper()

	fs := &fakeStack{tokenStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&fs.registered))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"client_id":"cid","client_secret":"csecret","registration_access_token":"rat"}`))
	})
	mux.HandleFunc("POST /auth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "cid", r.PostForm.Get("client_id"))
		assert.Equal(t, "csecret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "CODE", r.PostForm.Get("code"))

		w.Header().Set("Content-Type", "application/json")

		if fs.tokenStatus != http.StatusOK {
			w.WriteHeader(fs.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))

			return
		}

		fs.grantedCodes.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer",` +
			`"refresh_token":"ref","scope":"io.cozy.contacts:ALL"}`))
	})
	mux.HandleFunc("POST /data/{doctype}/", func(w http.ResponseWriter, r *http.Request) {
		fs.dataCalls.Add(1)
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":"d1","rev":"1-a"}`))
	})

	fs.srv = httptest.NewServer(mux)
	t.Cleanup(fs.srv.Close)

	return fs
}

// simulatedBrowser follows the consent URL the way a user who clicks
// "accept" would: it redirects to the registered URI with the state echoed
// and the given code.
func simulatedBrowser(t *testing.T, tamperState bool) func(string) error {
	t.Helper()

	return func(authURL string) error {
		u, err := url.Parse(authURL)
		if err != nil {
			return err
		}

		q := u.Query()
		state := q.Get("state")

		if tamperState {
			state = "forged"
		}

		redirect := strings.Replace(q.Get("redirect_uri"), "localhost", "127.0.0.1", 1) +
			"?state=" + url.QueryEscape(state) + "&access_code=CODE"

		go func() { _, _, _ = browserGet(redirect) }()

		return nil
	}
}

func newTestAuthorizer(t *testing.T, openURL func(string) error) (*Authorizer, *tokenfile.Store, int) {
	t.Helper()

	store := tokenfile.NewStore(filepath.Join(t.TempDir(), "token.json"))
	port := freePort(t)

	a := NewAuthorizer(AuthorizerConfig{
		Store:    store,
		Callback: CallbackConfig{Port: port},
		Software: Software{Name: "ach", Version: "1.2.3"},
		OpenURL:  openURL,
	})

	return a, store, port
}

func TestAuthorizeNew_FullFlow(t *testing.T) {
	fs := newFakeStack(t)

	var (
		seenAuthURL string
		a           *Authorizer
	)

	browser := simulatedBrowser(t, false)
	a, store, port := newTestAuthorizer(t, func(authURL string) error {
		seenAuthURL = authURL
		assert.Equal(t, StateAwaitingRedirect, a.State())

		return browser(authURL)
	})

	assert.Equal(t, StateUnauthenticated, a.State())

	client, err := a.AuthorizeNew(context.Background(), fs.srv.URL+"/",
		[]string{"io.cozy.contacts", "io.cozy.files"})
	require.NoError(t, err)
	require.NotNil(t, client)

	assert.Equal(t, StateTokenAcquired, a.State())
	assert.Equal(t, int32(1), fs.grantedCodes.Load())

	// Registration payload.
	assert.Equal(t, []string{"http://localhost:" + strconv.Itoa(port) + "/do_access"}, fs.registered.RedirectURIs)
	assert.Equal(t, "ACH", fs.registered.ClientName)
	assert.Equal(t, "ACH-1.2.3", fs.registered.SoftwareID)
	assert.Equal(t, "1.2.3", fs.registered.SoftwareVersion)

	// Consent URL.
	u, err := url.Parse(seenAuthURL)
	require.NoError(t, err)
	assert.Equal(t, "/auth/authorize", u.Path)
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Equal(t, "io.cozy.contacts:ALL io.cozy.files:ALL", u.Query().Get("scope"))
	assert.NotEmpty(t, u.Query().Get("state"))

	// Persisted token.
	tok, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)

	// The client is bound to the instance and authenticated.
	assert.Equal(t, fs.srv.URL, client.BaseURL())
	_, err = client.CreateDoc(context.Background(), "io.cozy.contacts", map[string]any{"n": 1})
	require.NoError(t, err)
	assert.Equal(t, int32(1), fs.dataCalls.Load())
}

func TestAuthorizeNew_ExchangeRejected(t *testing.T) {
	fs := newFakeStack(t)
	fs.tokenStatus = http.StatusBadRequest

	a, store, _ := newTestAuthorizer(t, simulatedBrowser(t, false))

	_, err := a.AuthorizeNew(context.Background(), fs.srv.URL, []string{"io.cozy.contacts"})
	require.Error(t, err)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, StateUnauthenticated, a.State())

	_, loadErr := store.Load()
	assert.ErrorIs(t, loadErr, tokenfile.ErrNotFound, "nothing is persisted on failure")
}

func TestAuthorizeNew_StateMismatch(t *testing.T) {
	fs := newFakeStack(t)
	a, _, _ := newTestAuthorizer(t, simulatedBrowser(t, true))

	_, err := a.AuthorizeNew(context.Background(), fs.srv.URL, []string{"io.cozy.contacts"})

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Contains(t, err.Error(), "state mismatch")
	assert.Equal(t, int32(0), fs.grantedCodes.Load(), "no exchange after a forged redirect")
}

func TestAuthorizeNew_RegistrationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_redirect_uri"}`))
	}))
	defer srv.Close()

	opened := false
	a, _, _ := newTestAuthorizer(t, func(string) error { opened = true; return nil })

	_, err := a.AuthorizeNew(context.Background(), srv.URL, []string{"io.cozy.contacts"})
	require.ErrorIs(t, err, ErrBadRequest)
	assert.False(t, opened)
	assert.Equal(t, StateUnauthenticated, a.State())
}

func TestAuthorizeNew_CallbackPortBusy(t *testing.T) {
	fs := newFakeStack(t)

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	a := NewAuthorizer(AuthorizerConfig{
		Store:    tokenfile.NewStore(filepath.Join(t.TempDir(), "token.json")),
		Callback: CallbackConfig{Port: occupied.Addr().(*net.TCPAddr).Port},
		Software: Software{Name: "ach", Version: "dev"},
	})

	_, err = a.AuthorizeNew(context.Background(), fs.srv.URL, []string{"io.cozy.contacts"})

	var cbErr *CallbackError
	require.ErrorAs(t, err, &cbErr)
}

func TestAuthorizeFromStored_NotFound(t *testing.T) {
	a, _, _ := newTestAuthorizer(t, nil)

	_, err := a.AuthorizeFromStored("https://alice.mycozy.cloud")
	require.ErrorIs(t, err, tokenfile.ErrNotFound)
	assert.Equal(t, StateUnauthenticated, a.State())
}

func TestAuthorizeFromStored_NoNetwork(t *testing.T) {
	fs := newFakeStack(t)
	a, store, _ := newTestAuthorizer(t, nil)
	require.NoError(t, store.Save("tok-123"))

	client, err := a.AuthorizeFromStored(fs.srv.URL)
	require.NoError(t, err)
	assert.Equal(t, StateTokenAcquired, a.State())
	assert.Equal(t, int32(0), fs.dataCalls.Load())
	assert.Empty(t, fs.registered.ClientName, "no registration for a stored token")

	_, err = client.CreateDoc(context.Background(), "io.cozy.contacts", nil)
	require.NoError(t, err)
}

func TestAuthorizer_OneShot(t *testing.T) {
	a, store, _ := newTestAuthorizer(t, nil)
	require.NoError(t, store.Save("tok"))

	_, err := a.AuthorizeFromStored("https://x.example")
	require.NoError(t, err)

	_, err = a.AuthorizeFromStored("https://x.example")
	require.ErrorIs(t, err, ErrAlreadyAuthorized)

	_, err = a.AuthorizeNew(context.Background(), "https://x.example", nil)
	require.ErrorIs(t, err, ErrAlreadyAuthorized)
}

func TestCodeFromRedirect(t *testing.T) {
	tests := []struct {
		name     string
		redirect string
		want     string
		wantErr  string
	}{
		{"access_code", "http://localhost:3333/do_access?state=s&access_code=abc", "abc", ""},
		{"code fallback", "http://localhost:3333/do_access?state=s&code=xyz", "xyz", ""},
		{"denied", "http://localhost:3333/do_access?state=s&error=access_denied", "", "access_denied"},
		{"missing code", "http://localhost:3333/do_access?state=s", "", "missing authorization code"},
		{"wrong state", "http://localhost:3333/do_access?state=t&code=1", "", "state mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := codeFromRedirect(tt.redirect, "s")
			if tt.wantErr != "" {
				var authErr *AuthorizationError
				require.ErrorAs(t, err, &authErr)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScopesAndSoftware(t *testing.T) {
	assert.Equal(t, []string{"io.cozy.files:ALL"}, Scopes([]string{"io.cozy.files"}))
	assert.Empty(t, Scopes(nil))

	sw := Software{Name: "ach", Version: "0.4.0"}
	assert.Equal(t, "ACH", sw.ClientName())
	assert.Equal(t, "ACH-0.4.0", sw.SoftwareID())
}

func TestAuthState_String(t *testing.T) {
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
	assert.Equal(t, "awaiting-redirect", StateAwaitingRedirect.String())
	assert.Equal(t, "token-acquired", StateTokenAcquired.String())
	assert.Equal(t, "AuthState(9)", AuthState(9).String())
}
