package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Callback defaults. The redirect URI registered with the stack must match
// exactly, so port and path are fixed unless configured otherwise.
const (
	DefaultCallbackHost = "127.0.0.1"
	DefaultCallbackPort = 3333
	DefaultCallbackPath = "/do_access"
)

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// CallbackConfig locates the local redirect listener.
type CallbackConfig struct {
	Host       string // bind address; empty means DefaultCallbackHost
	Port       int    // 0 means DefaultCallbackPort
	PathPrefix string // empty means DefaultCallbackPath
}

func (c CallbackConfig) withDefaults() CallbackConfig {
	if c.Host == "" {
		c.Host = DefaultCallbackHost
	}

	if c.Port == 0 {
		c.Port = DefaultCallbackPort
	}

	if c.PathPrefix == "" {
		c.PathPrefix = DefaultCallbackPath
	}

	return c
}

// RedirectURI is the URI the stack redirects the browser to after consent.
func (c CallbackConfig) RedirectURI() string {
	c = c.withDefaults()
	return fmt.Sprintf("http://localhost:%d%s", c.Port, c.PathPrefix)
}

// callbackResult carries the captured redirect or a server failure.
type callbackResult struct {
	url string
	err error
}

// AwaitRedirect binds the callback listener, opens authURL in the browser
// and blocks until the first request whose path starts with the configured
// prefix arrives. It returns that request's full URL. The listener is closed
// before AwaitRedirect returns, on every path.
//
// A bind failure is returned as *CallbackError. Failing to launch the
// browser is not fatal: the URL is printed so the user can open it by hand.
// There is no timeout; only ctx cancellation ends the wait early.
func AwaitRedirect(
	ctx context.Context,
	cfg CallbackConfig,
	authURL string,
	openURL func(string) error,
	logger *slog.Logger,
) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return "", &CallbackError{Addr: addr, Err: err}
	}

	logger.Info("callback server listening",
		slog.String("addr", addr),
		slog.String("path", cfg.PathPrefix),
	)

	resultCh := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           redirectHandler(cfg.PathPrefix, resultCh),
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: &CallbackError{Addr: addr, Err: serveErr}}:
			default:
			}
		}
	}()

	defer shutdownCallbackServer(srv, logger)

	launchBrowser(authURL, openURL, logger)

	select {
	case result := <-resultCh:
		if result.err != nil {
			return "", result.err
		}

		logger.Info("captured authorization redirect")

		return result.url, nil
	case <-ctx.Done():
		return "", fmt.Errorf("stack: waiting for authorization redirect: %w", ctx.Err())
	}
}

// redirectHandler answers the first matching request with an empty 200 and
// hands its URL to resultCh. Later matching requests get the same answer but
// are otherwise ignored.
func redirectHandler(prefix string, resultCh chan<- callbackResult) http.Handler {
	var once sync.Once

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}

		w.WriteHeader(http.StatusOK)

		once.Do(func() {
			resultCh <- callbackResult{url: "http://" + r.Host + r.URL.RequestURI()}
		})
	})
}

// shutdownCallbackServer closes the listener and waits for in-flight
// responses to drain.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

// launchBrowser attempts to open the auth URL. If it fails, prints the URL
// to stderr as a fallback so the user can copy-paste it.
func launchBrowser(authURL string, openURL func(string) error, logger *slog.Logger) {
	logger.Info("opening browser for authorization")

	if openURL == nil {
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
		return
	}

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}
}
