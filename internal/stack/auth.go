package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/cozy-ach/internal/tokenfile"
)

// scopeSuffix grants full access to a doctype.
const scopeSuffix = ":ALL"

// AuthState is the position of an Authorizer in its one-way lifecycle.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAwaitingRedirect
	StateTokenAcquired
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAwaitingRedirect:
		return "awaiting-redirect"
	case StateTokenAcquired:
		return "token-acquired"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// ErrAlreadyAuthorized is returned when an Authorizer that already produced
// a client is asked to authorize again.
var ErrAlreadyAuthorized = errors.New("stack: authorizer already holds a token")

// ErrAuthorizationInProgress is returned for concurrent authorize calls.
var ErrAuthorizationInProgress = errors.New("stack: authorization already in progress")

// Software identifies this tool to the stack during client registration.
type Software struct {
	Name    string // e.g. "ach"; upper-cased for the client name
	Version string
}

// ClientName is the registered client name (the tool name, upper-cased).
func (s Software) ClientName() string {
	return strings.ToUpper(s.Name)
}

// SoftwareID is the registered software id, "<CLIENT NAME>-<version>".
func (s Software) SoftwareID() string {
	return s.ClientName() + "-" + s.Version
}

// AuthorizerConfig collects the Authorizer's collaborators.
type AuthorizerConfig struct {
	Store      *tokenfile.Store
	HTTPClient *http.Client
	Callback   CallbackConfig
	Software   Software
	UserAgent  string
	MaxRetries int

	// OpenURL launches the system browser. nil prints the URL instead.
	OpenURL func(string) error
	Logger  *slog.Logger
}

// Authorizer produces a ready *Client, either through the browser-driven
// authorization-code flow or from a previously stored token. Which path to
// take is the caller's decision.
type Authorizer struct {
	cfg AuthorizerConfig

	mu    sync.Mutex
	state AuthState
	busy  bool
}

// NewAuthorizer creates an Authorizer in StateUnauthenticated.
func NewAuthorizer(cfg AuthorizerConfig) *Authorizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	if cfg.Store == nil {
		cfg.Store = tokenfile.NewStore("")
	}

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	return &Authorizer{cfg: cfg}
}

// State reports the current lifecycle state.
func (a *Authorizer) State() AuthState {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// begin claims the Authorizer for one attempt.
func (a *Authorizer) begin() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateTokenAcquired {
		return ErrAlreadyAuthorized
	}

	if a.busy {
		return ErrAuthorizationInProgress
	}

	a.busy = true

	return nil
}

// finish releases the attempt and records its final state.
func (a *Authorizer) finish(s AuthState) {
	a.mu.Lock()
	a.state = s
	a.busy = false
	a.mu.Unlock()
}

func (a *Authorizer) setState(s AuthState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Scopes returns the permission scope for each doctype ("<doctype>:ALL").
func Scopes(docTypes []string) []string {
	scopes := make([]string, 0, len(docTypes))
	for _, dt := range docTypes {
		scopes = append(scopes, dt+scopeSuffix)
	}

	return scopes
}

// AuthorizeNew runs the full browser flow:
//  1. Registers a new OAuth client whose redirect URI points at the local
//     callback server
//  2. Opens the consent page and captures the redirect
//  3. Exchanges the code for an access token
//  4. Saves the token to the store and returns a ready client
//
// Any failure aborts the attempt; no partial client is returned and the
// Authorizer returns to StateUnauthenticated.
func (a *Authorizer) AuthorizeNew(ctx context.Context, instanceURL string, docTypes []string) (*Client, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}

	client, err := a.authorizeNew(ctx, instanceURL, docTypes)
	if err != nil {
		a.finish(StateUnauthenticated)
		return nil, err
	}

	a.finish(StateTokenAcquired)

	return client, nil
}

func (a *Authorizer) authorizeNew(ctx context.Context, instanceURL string, docTypes []string) (*Client, error) {
	logger := a.cfg.Logger
	instanceURL = strings.TrimRight(instanceURL, "/")
	redirectURI := a.cfg.Callback.RedirectURI()

	logger.Info("starting browser authorization",
		slog.String("instance", instanceURL),
		slog.Int("doctypes", len(docTypes)),
	)

	reg, err := Register(ctx, a.cfg.HTTPClient, instanceURL, ClientMetadata{
		RedirectURIs:    []string{redirectURI},
		ClientName:      a.cfg.Software.ClientName(),
		ClientKind:      "desktop",
		SoftwareID:      a.cfg.Software.SoftwareID(),
		SoftwareVersion: a.cfg.Software.Version,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("stack: registering OAuth client: %w", err)
	}

	oauthCfg := oauthConfig(instanceURL, reg, redirectURI, Scopes(docTypes))
	state := uuid.NewString()
	authURL := oauthCfg.AuthCodeURL(state)

	a.setState(StateAwaitingRedirect)

	redirected, err := AwaitRedirect(ctx, a.cfg.Callback, authURL, a.cfg.OpenURL, logger)
	if err != nil {
		return nil, err
	}

	code, err := codeFromRedirect(redirected, state)
	if err != nil {
		return nil, err
	}

	logger.Info("received authorization code, exchanging for token")

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, a.cfg.HTTPClient)

	tok, err := oauthCfg.Exchange(exchangeCtx, code)
	if err != nil {
		return nil, &AuthorizationError{Err: fmt.Errorf("token exchange: %w", err)}
	}

	if saveErr := a.cfg.Store.Save(tok.AccessToken); saveErr != nil {
		return nil, fmt.Errorf("stack: saving token: %w", saveErr)
	}

	logger.Info("authorization successful", slog.String("path", a.cfg.Store.Path()))

	return a.newClient(instanceURL, tok.AccessToken), nil
}

// AuthorizeFromStored builds a client from the stored token without any
// network call. tokenfile.ErrNotFound is propagated unchanged when no token
// has been saved.
func (a *Authorizer) AuthorizeFromStored(instanceURL string) (*Client, error) {
	if err := a.begin(); err != nil {
		return nil, err
	}

	tok, err := a.cfg.Store.Load()
	if err != nil {
		a.finish(StateUnauthenticated)
		return nil, err
	}

	a.cfg.Logger.Info("loaded stored token", slog.String("path", a.cfg.Store.Path()))
	a.finish(StateTokenAcquired)

	return a.newClient(strings.TrimRight(instanceURL, "/"), tok), nil
}

func (a *Authorizer) newClient(instanceURL, token string) *Client {
	c := NewClient(instanceURL, a.cfg.HTTPClient, StaticToken(token), a.cfg.Logger, a.cfg.UserAgent)
	c.SetMaxRetries(a.cfg.MaxRetries)

	return c
}

// oauthConfig builds the authorization-code configuration for a registered
// client. The stack expects client credentials in the form body.
func oauthConfig(instanceURL string, reg *Registration, redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: reg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   instanceURL + "/auth/authorize",
			TokenURL:  instanceURL + "/auth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// codeFromRedirect validates the captured redirect and extracts the
// authorization code. The stack names the parameter access_code; code is
// accepted too.
func codeFromRedirect(redirected, state string) (string, error) {
	u, err := url.Parse(redirected)
	if err != nil {
		return "", &AuthorizationError{Err: fmt.Errorf("parsing redirect URL: %w", err)}
	}

	q := u.Query()

	if q.Get("state") != state {
		return "", &AuthorizationError{Err: errors.New("OAuth2 state mismatch (possible CSRF)")}
	}

	if errParam := q.Get("error"); errParam != "" {
		return "", &AuthorizationError{Err: fmt.Errorf("%s: %s", errParam, q.Get("error_description"))}
	}

	code := q.Get("access_code")
	if code == "" {
		code = q.Get("code")
	}

	if code == "" {
		return "", &AuthorizationError{Err: errors.New("redirect missing authorization code")}
	}

	return code, nil
}
