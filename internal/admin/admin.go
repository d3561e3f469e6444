// Package admin talks to a stack's administration API: issuing CLI tokens for
// an instance and toggling per-instance debug logging. Admin endpoints are
// typically served with a self-signed certificate, so TLS verification is
// off for https URLs.
package admin

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout applies when Endpoint.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept.
const maxErrorBody = 4096

// ErrMissingCredentials is returned when an endpoint has no "user:password".
var ErrMissingCredentials = errors.New("admin: credentials must be user:password")

// Endpoint locates one admin API.
type Endpoint struct {
	URL     string // e.g. "http://localhost:6060"
	Auth    string // "user:password"
	Timeout time.Duration
}

// StatusError is a non-2xx answer from the admin API.
type StatusError struct {
	Method     string
	Route      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("admin: %s %s: HTTP %d", e.Method, e.Route, e.StatusCode)
	}

	return fmt.Sprintf("admin: %s %s: HTTP %d: %s", e.Method, e.Route, e.StatusCode, body)
}

// Client issues authenticated admin requests against one endpoint.
type Client struct {
	baseURL    string
	authHeader string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient validates ep and builds a client for it.
func NewClient(ep Endpoint, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := url.Parse(strings.TrimSpace(ep.URL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("admin: invalid URL %q", ep.URL)
	}

	if !strings.Contains(ep.Auth, ":") {
		return nil, ErrMissingCredentials
	}

	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if u.Scheme == "https" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed admin endpoints
	}

	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		authHeader: "Basic " + base64.StdEncoding.EncodeToString([]byte(ep.Auth)),
		httpClient: &http.Client{Transport: transport, Timeout: timeout},
		logger:     logger,
	}, nil
}

// CreateToken asks the admin API for a CLI token on domain, scoped to the
// given doctypes, and returns the raw token.
func (c *Client) CreateToken(ctx context.Context, domain string, docTypes []string) (string, error) {
	if domain == "" {
		return "", errors.New("admin: domain is required")
	}

	q := url.Values{}
	q.Set("Domain", domain)
	q.Set("Audience", "cli")
	q.Set("Scope", strings.Join(docTypes, " "))

	body, err := c.do(ctx, http.MethodPost, "/instances/token?"+q.Encode())
	if err != nil {
		return "", err
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", errors.New("admin: empty token in response")
	}

	c.logger.Info("issued CLI token",
		slog.String("domain", domain),
		slog.Int("doctypes", len(docTypes)),
	)

	return token, nil
}

// EnableDebug turns on debug logging for domain.
func (c *Client) EnableDebug(ctx context.Context, domain string) error {
	_, err := c.do(ctx, http.MethodPost, debugRoute(domain))
	return err
}

// DisableDebug turns debug logging for domain back off.
func (c *Client) DisableDebug(ctx context.Context, domain string) error {
	_, err := c.do(ctx, http.MethodDelete, debugRoute(domain))
	return err
}

func debugRoute(domain string) string {
	return "/instances/" + url.PathEscape(domain) + "/debug"
}

func (c *Client) do(ctx context.Context, method, route string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+route, nil)
	if err != nil {
		return nil, fmt.Errorf("admin: creating request: %w", err)
	}

	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("admin request", slog.String("method", method), slog.String("route", route))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("admin: %s %s: %w", method, route, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort read for error message

		return nil, &StatusError{Method: method, Route: route, StatusCode: resp.StatusCode, Body: string(errBody)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("admin: reading response: %w", err)
	}

	return body, nil
}
