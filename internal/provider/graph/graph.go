package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/mailgate/internal/email"
)

const defaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	baseURL    string
	httpClient *http.Client
	token      *clientCredentials
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	client := &http.Client{Timeout: 30 * time.Second}
	return newWithOverrides(cfg, defaultGraphBaseURL, tokenURL, client)
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, baseURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		baseURL:    baseURL,
		httpClient: client,
		token:      newClientCredentials(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send posts msg to the sender's sendMail endpoint. A 401 triggers one
// token refresh and one more request; every other failure is returned
// as is.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Composed) error {
	if err := g.send(ctx, msg); err != nil {
		return &email.Error{Kind: email.TransportFailure, Op: "Graph send failed", Err: err}
	}
	return nil
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

func (g *GraphProvider) send(ctx context.Context, msg *email.Composed) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	endpoint := fmt.Sprintf("%s/users/%s/sendMail", g.baseURL, url.PathEscape(msg.From))

	token, err := g.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	err = g.doSendRequest(ctx, endpoint, token, bodyJSON)
	var sendErr *sendError
	if !errors.As(err, &sendErr) || sendErr.statusCode != http.StatusUnauthorized {
		return err
	}

	slog.Info("refreshing Graph API token after 401")
	token, err = g.token.Renew(ctx, token)
	if err != nil {
		return fmt.Errorf("token refresh failed: %w", err)
	}
	return g.doSendRequest(ctx, endpoint, token, bodyJSON)
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *GraphProvider) doSendRequest(ctx context.Context, endpoint, token string, bodyJSON []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	message := string(body)
	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		message = graphErrResp.Error.Message
	}
	return &sendError{statusCode: resp.StatusCode, message: message}
}

// sendError is a non-success response from the sendMail endpoint.
type sendError struct {
	statusCode int
	message    string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}
