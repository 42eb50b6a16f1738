package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// expiryMargin is subtracted from expires_in so a token is never used
	// in its last minutes.
	expiryMargin = 5 * time.Minute
)

// tokenError is a non-200 answer from the token endpoint.
type tokenError struct {
	status      int
	code        string
	description string
}

func (e *tokenError) Error() string {
	if e.code == "" {
		return fmt.Sprintf("token endpoint returned %d", e.status)
	}
	if e.description == "" {
		return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.code)
	}
	return fmt.Sprintf("token endpoint returned %d: %s: %s", e.status, e.code, e.description)
}

// clientCredentials holds an app-only Graph token obtained with the
// client credentials grant. Safe for concurrent use.
type clientCredentials struct {
	endpoint string
	form     url.Values
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	current string
	expiry  time.Time
}

func newClientCredentials(endpoint, clientID, clientSecret string, client *http.Client) *clientCredentials {
	return &clientCredentials{
		endpoint: endpoint,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		client: client,
		now:    time.Now,
	}
}

// Token returns the cached token, fetching a new one when none is held or
// the held one is inside the expiry margin.
func (c *clientCredentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != "" && c.now().Before(c.expiry) {
		return c.current, nil
	}
	return c.fetch(ctx)
}

// Renew replaces a token Graph rejected. When a concurrent caller has
// already replaced it, the newer token is returned without a request.
func (c *clientCredentials) Renew(ctx context.Context, rejected string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != "" && c.current != rejected && c.now().Before(c.expiry) {
		return c.current, nil
	}
	c.current = ""
	return c.fetch(ctx)
}

// fetch must be called with c.mu held.
func (c *clientCredentials) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(c.form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		tErr := &tokenError{status: resp.StatusCode}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			tErr.code = oauthErr.Error
			tErr.description = oauthErr.ErrorDescription
		}
		return "", tErr
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}
	if tr.TokenType != "" && !strings.EqualFold(tr.TokenType, "bearer") {
		return "", fmt.Errorf("unsupported token type %q", tr.TokenType)
	}

	c.current = tr.AccessToken
	c.expiry = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - expiryMargin)
	return c.current, nil
}
