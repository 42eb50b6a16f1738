package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailgate/internal/email"
)

func testMessage() *email.Composed {
	return &email.Composed{
		From:      "sender@example.com",
		To:        []string{"to@example.com"},
		Cc:        []string{"cc@example.com"},
		Bcc:       []string{"sender@example.com"},
		Subject:   "Test",
		Text:      "Body",
		MessageID: "id-1@example.com",
	}
}

func TestBuildSendMailRequest(t *testing.T) {
	t.Parallel()

	req := buildSendMailRequest(testMessage())

	assert.True(t, req.SaveToSentItems)
	assert.Equal(t, "Test", req.Message.Subject)
	assert.Equal(t, messageBody{ContentType: "text", Content: "Body"}, req.Message.Body)
	assert.Equal(t, []recipient{{EmailAddress: emailAddress{Address: "to@example.com"}}}, req.Message.ToRecipients)
	assert.Equal(t, []recipient{{EmailAddress: emailAddress{Address: "cc@example.com"}}}, req.Message.CcRecipients)
	assert.Equal(t, []recipient{{EmailAddress: emailAddress{Address: "sender@example.com"}}}, req.Message.BccRecipients)
	assert.Equal(t, []customHeader{{Name: "X-Mailgate-Message-Id", Value: "id-1@example.com"}}, req.Message.InternetMessageHeaders)
}

func TestBuildSendMailRequest_HTMLWins(t *testing.T) {
	t.Parallel()

	msg := testMessage()
	msg.HTML = "<h1>Hi</h1>"

	req := buildSendMailRequest(msg)
	assert.Equal(t, messageBody{ContentType: "html", Content: "<h1>Hi</h1>"}, req.Message.Body)
}

func TestBuildSendMailRequest_JSON(t *testing.T) {
	t.Parallel()

	msg := testMessage()
	msg.Cc = nil
	msg.Bcc = nil
	msg.MessageID = ""

	data, err := json.Marshal(buildSendMailRequest(msg))
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"saveToSentItems":true`)
	assert.Contains(t, s, `"toRecipients":[{"emailAddress":{"address":"to@example.com"}}]`)
	assert.NotContains(t, s, "ccRecipients")
	assert.NotContains(t, s, "bccRecipients")
	assert.NotContains(t, s, "internetMessageHeaders")
}

func TestGraphProvider_Name(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "msgraph", New(GraphProviderConfig{}).Name())
}

func newTokenServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+n)),
			ExpiresIn:   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGraphProvider_SendSuccess(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/sender@example.com/sendMail", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body sendMailRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
			assert.Equal(t, "Test", body.Message.Subject)
			assert.Len(t, body.Message.BccRecipients, 1)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newWithOverrides(
		GraphProviderConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"},
		graphServer.URL, tokenServer.URL, graphServer.Client(),
	)

	require.NoError(t, p.Send(context.Background(), testMessage()))
	require.NoError(t, p.Send(context.Background(), testMessage()))
	assert.Equal(t, int32(1), tokenCalls.Load(), "token should be cached between sends")
}

func TestGraphProvider_FailureIsNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "graph error body",
			status:  http.StatusBadRequest,
			body:    `{"error":{"code":"ErrorInvalidRecipients","message":"Invalid recipients"}}`,
			wantMsg: "Graph API error (HTTP 400): Invalid recipients",
		},
		{
			name:    "server error",
			status:  http.StatusServiceUnavailable,
			body:    "unavailable",
			wantMsg: "Graph API error (HTTP 503): unavailable",
		},
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			body:    `{"error":{"code":"TooManyRequests","message":"slow down"}}`,
			wantMsg: "Graph API error (HTTP 429): slow down",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var tokenCalls, graphCalls atomic.Int32
			tokenServer := newTokenServer(t, &tokenCalls)
			graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				graphCalls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer graphServer.Close()

			p := newWithOverrides(GraphProviderConfig{}, graphServer.URL, tokenServer.URL, graphServer.Client())
			err := p.Send(context.Background(), testMessage())

			require.Error(t, err)
			assert.Equal(t, int32(1), graphCalls.Load())
			assert.Equal(t, email.TransportFailure, email.KindOf(err))
			assert.Equal(t, tt.wantMsg, email.Cause(err))
			assert.True(t, strings.HasPrefix(err.Error(), "Graph send failed: "))
		})
	}
}

func TestGraphProvider_RefreshesTokenOnceOn401(t *testing.T) {
	t.Parallel()

	var tokenCalls, graphCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if graphCalls.Add(1) == 1 {
			assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(graphErrorResponse{
				Error: graphError{Code: "Unauthorized", Message: "Token expired"},
			})
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newWithOverrides(GraphProviderConfig{}, graphServer.URL, tokenServer.URL, graphServer.Client())

	require.NoError(t, p.Send(context.Background(), testMessage()))
	assert.Equal(t, int32(2), graphCalls.Load())
	assert.Equal(t, int32(2), tokenCalls.Load())
}

func TestGraphProvider_Persistent401(t *testing.T) {
	t.Parallel()

	var tokenCalls, graphCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer graphServer.Close()

	p := newWithOverrides(GraphProviderConfig{}, graphServer.URL, tokenServer.URL, graphServer.Client())

	err := p.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, int32(2), graphCalls.Load())
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestGraphProvider_TokenFailure(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer tokenServer.Close()

	var graphCalls atomic.Int32
	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCalls.Add(1)
	}))
	defer graphServer.Close()

	p := newWithOverrides(GraphProviderConfig{}, graphServer.URL, tokenServer.URL, graphServer.Client())

	err := p.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Equal(t, email.TransportFailure, email.KindOf(err))
	assert.Contains(t, err.Error(), "failed to get access token")
	assert.Zero(t, graphCalls.Load())
}

func TestGraphProvider_ContextCancellation(t *testing.T) {
	t.Parallel()

	var tokenCalls atomic.Int32
	tokenServer := newTokenServer(t, &tokenCalls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newWithOverrides(GraphProviderConfig{}, "http://127.0.0.1:1", tokenServer.URL, http.DefaultClient)
	err := p.Send(ctx, testMessage())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
