package stack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Retry and backoff constants. Only responses that prove the stack did not
// process the request (429, 503) are retried.
const (
	DefaultMaxRetries = 3
	baseBackoff       = 1 * time.Second
	maxBackoff        = 30 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	DefaultUserAgent  = "ach/dev"
)

// uploadDialTimeout bounds connection setup for streamed uploads when the
// caller's client has an overall timeout to derive limits from.
const uploadDialTimeout = 30 * time.Second

// TokenSource provides bearer tokens. Defined at the consumer per Go
// convention "accept interfaces, return structs".
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource for a token loaded from disk. Stack access
// tokens issued to CLI clients are not refreshed by this tool.
type StaticToken string

func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", errors.New("stack: empty access token")
	}

	return string(t), nil
}

// Client is an HTTP client bound to one stack instance and one credential.
// It handles request construction, authentication, limited retry and error
// classification.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
	maxRetries int

	// uploadClient sends streamed bodies. It has no overall Timeout, so a
	// large file on a slow link is not cut off mid-body.
	uploadClient *http.Client

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a stack client. baseURL is the instance URL, for
// example "https://alice.mycozy.cloud". An empty userAgent means
// DefaultUserAgent.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   httpClient,
		uploadClient: newUploadClient(httpClient),
		token:        token,
		logger:       logger,
		userAgent:    userAgent,
		maxRetries:   DefaultMaxRetries,
		sleepFunc:    timeSleep,
	}
}

// newUploadClient derives the client used for streamed uploads from base.
// base.Timeout covers the whole exchange including the body; here it only
// bounds waiting for the response headers once the body is sent.
func newUploadClient(base *http.Client) *http.Client {
	if base.Timeout <= 0 {
		return base
	}

	uc := *base
	uc.Timeout = 0

	var tr *http.Transport

	switch t := base.Transport.(type) {
	case nil:
		tr = http.DefaultTransport.(*http.Transport).Clone() //nolint:errcheck // DefaultTransport is always *http.Transport
	case *http.Transport:
		tr = t.Clone()
	default:
		// Unknown round tripper: nothing to bound on, keep it as is.
		return &uc
	}

	tr.DialContext = (&net.Dialer{Timeout: min(base.Timeout, uploadDialTimeout)}).DialContext
	tr.ResponseHeaderTimeout = base.Timeout
	uc.Transport = tr

	return &uc
}

// SetMaxRetries overrides the retry budget for throttled requests.
// Negative values are treated as zero.
func (c *Client) SetMaxRetries(n int) {
	c.maxRetries = max(n, 0)
}

// BaseURL returns the instance URL the client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes an authenticated request against the stack. The path (with
// any query string) is appended to the base URL. Non-nil bodies are sent as
// application/json. A body is only resent on retry when it implements
// io.Seeker. The caller closes the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	return c.do(ctx, method, path, "application/json", body, -1, true)
}

// doRaw sends a single authenticated request with a caller-chosen content
// type and never retries. Used for streamed uploads where the body cannot be
// replayed. An empty contentType leaves the header unset so the stack infers
// it; size < 0 means unknown length.
func (c *Client) doRaw(
	ctx context.Context, method, path, contentType string, body io.Reader, size int64,
) (*http.Response, error) {
	return c.do(ctx, method, path, contentType, body, size, false)
}

func (c *Client) do(
	ctx context.Context, method, path, contentType string, body io.Reader, size int64, allowRetry bool,
) (*http.Response, error) {
	url := c.baseURL + path
	seeker, rewindable := body.(io.Seeker)

	if body == nil {
		rewindable = true
	}

	var attempt int
	for {
		client := c.httpClient
		if !allowRetry {
			client = c.uploadClient
		}

		resp, err := c.doOnce(ctx, client, method, url, contentType, body, size)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("stack: request canceled: %w", ctx.Err())
			}

			return nil, fmt.Errorf("stack: %s %s: %w", method, path, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if allowRetry && rewindable && isRetryable(resp.StatusCode) && attempt < c.maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying throttled request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("stack: request canceled: %w", err)
			}

			if seeker != nil {
				if _, err := seeker.Seek(0, io.SeekStart); err != nil {
					return nil, fmt.Errorf("stack: rewinding request body: %w", err)
				}
			}

			attempt++

			continue
		}

		remoteErr := newRemoteError(resp.StatusCode, errBody)

		c.logger.Debug("request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.Int("attempts", attempt+1),
		)

		return nil, remoteErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, client *http.Client, method, url, contentType string, body io.Reader, size int64,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if size >= 0 && body != nil {
		req.ContentLength = size
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return client.Do(req)
}

// retryBackoff honors Retry-After on 429 responses and falls back to
// exponential backoff otherwise.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
