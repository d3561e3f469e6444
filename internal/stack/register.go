package stack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// ClientMetadata is the dynamic client registration request.
type ClientMetadata struct {
	RedirectURIs    []string `json:"redirect_uris"`
	ClientName      string   `json:"client_name"`
	ClientKind      string   `json:"client_kind,omitempty"`
	SoftwareID      string   `json:"software_id"`
	SoftwareVersion string   `json:"software_version,omitempty"`
}

// Registration is what the stack hands back for a newly registered client.
type Registration struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret"`
	RegistrationAccessToken string `json:"registration_access_token"`
}

// Register creates a new OAuth client on the instance. It is the only call
// made without a bearer token.
func Register(
	ctx context.Context,
	httpClient *http.Client,
	instanceURL string,
	meta ClientMetadata,
	logger *slog.Logger,
) (*Registration, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	body, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("stack: marshaling client registration: %w", err)
	}

	url := strings.TrimRight(instanceURL, "/") + "/auth/register"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("stack: creating registration request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logger.Info("registering OAuth client",
		slog.String("instance", instanceURL),
		slog.String("software_id", meta.SoftwareID),
	)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stack: registering client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		return nil, newRemoteError(resp.StatusCode, errBody)
	}

	var reg Registration
	if err := json.NewDecoder(resp.Body).Decode(&reg); err != nil {
		return nil, fmt.Errorf("stack: decoding registration response: %w", err)
	}

	if reg.ClientID == "" {
		return nil, fmt.Errorf("stack: registration response missing client_id")
	}

	logger.Info("OAuth client registered", slog.String("client_id", reg.ClientID))

	return &reg, nil
}
