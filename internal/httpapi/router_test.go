package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/gateway"
)

const token = "s3cret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	calls int

	sent    email.OutboundMessage
	view    gateway.View
	limit   int
	readID  string
	sendErr error
	listErr error
	readErr error
	listing *email.Listing
	fullMsg *email.FullMessage
}

func (s *fakeService) Send(_ context.Context, msg email.OutboundMessage) (*email.Composed, error) {
	s.calls++
	s.sent = msg
	if s.sendErr != nil {
		return nil, s.sendErr
	}
	return &email.Composed{}, nil
}

func (s *fakeService) List(_ context.Context, view gateway.View, limit int) (*email.Listing, error) {
	s.calls++
	s.view, s.limit = view, limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	if s.listing != nil {
		return s.listing, nil
	}
	return &email.Listing{Messages: []email.HeaderSummary{}}, nil
}

func (s *fakeService) Read(_ context.Context, id string) (*email.FullMessage, error) {
	s.calls++
	s.readID = id
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.fullMsg, nil
}

func newTestRouter(t *testing.T, svc Service, origins ...string) *gin.Engine {
	t.Helper()
	r, err := NewRouter(svc, Options{
		AdminToken:     token,
		AllowedOrigins: origins,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return r
}

func do(r http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func authed() map[string]string {
	return map[string]string{tokenHeader: token}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()

	routes := []struct{ method, target, body string }{
		{http.MethodPost, "/api/email/send", `{"to":["a@x.com"],"text":"x"}`},
		{http.MethodGet, "/api/email/inbox", ""},
		{http.MethodGet, "/api/email/message?id=1", ""},
	}
	tokens := map[string]map[string]string{
		"missing":  nil,
		"wrong":    {tokenHeader: "nope"},
		"prefix":   {tokenHeader: "s3c"},
		"extended": {tokenHeader: token + "x"},
	}

	for _, rt := range routes {
		rt := rt
		for name, headers := range tokens {
			headers := headers
			t.Run(rt.target+"/"+name, func(t *testing.T) {
				t.Parallel()

				svc := &fakeService{}
				w := do(newTestRouter(t, svc), rt.method, rt.target, rt.body, headers)

				assert.Equal(t, http.StatusUnauthorized, w.Code)
				assert.JSONEq(t, `{"detail":"Unauthorized"}`, w.Body.String())
				assert.Zero(t, svc.calls, "no gateway call without a valid token")
			})
		}
	}
}

func TestEmptyConfiguredTokenRejectsAll(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r, err := NewRouter(svc, Options{})
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/api/email/inbox", "", map[string]string{tokenHeader: ""})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, svc.calls)
}

func TestHealthzAndMetricsArePublic(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{})

	w := do(r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = do(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestSend(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	w := do(newTestRouter(t, svc), http.MethodPost, "/api/email/send",
		`{"to":["a@x.com"],"cc":["c@x.com"],"subject":"Hi","text":"Hello","html":"<p>Hello</p>"}`, authed())

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	assert.Equal(t, []string{"a@x.com"}, svc.sent.To)
	assert.Equal(t, []string{"c@x.com"}, svc.sent.Cc)
	assert.Nil(t, svc.sent.Bcc, "omitted bcc stays nil")
	assert.Equal(t, "Hi", svc.sent.Subject)
	assert.Equal(t, "Hello", svc.sent.Text)
	assert.Equal(t, "<p>Hello</p>", svc.sent.HTML)
}

func TestSend_ExplicitEmptyBcc(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	w := do(newTestRouter(t, svc), http.MethodPost, "/api/email/send",
		`{"to":["a@x.com"],"bcc":[],"text":"x"}`, authed())

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, svc.sent.Bcc)
	assert.Empty(t, svc.sent.Bcc)
}

func TestSend_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		sendErr    error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "malformed json",
			body:       `{"to":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no body content",
			body:       `{"to":["a@x.com"],"subject":"Hi"}`,
			sendErr:    &email.Error{Kind: email.InvalidInput, Op: "Provide text or html body"},
			wantStatus: http.StatusBadRequest,
			wantDetail: "Provide text or html body",
		},
		{
			name:       "transport failure",
			body:       `{"to":["a@x.com"],"text":"x"}`,
			sendErr:    &email.Error{Kind: email.TransportFailure, Op: "SMTP send failed", Err: errors.New("auth: 535 bad credentials")},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "SMTP send failed: auth: 535 bad credentials",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{sendErr: tt.sendErr}
			w := do(newTestRouter(t, svc), http.MethodPost, "/api/email/send", tt.body, authed())

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, decode(t, w)["detail"])
			}
		})
	}
}

func TestInbox(t *testing.T) {
	t.Parallel()

	svc := &fakeService{listing: &email.Listing{
		Messages: []email.HeaderSummary{
			{UID: "4", Subject: "four", From: "a@x.com", Date: "Mon, 2 Mar 2026 10:00:00 +0000", MessageID: "<4@x>", Size: 120},
			{UID: "3", Subject: "(no subject)"},
		},
		Requested: 3,
		Skipped:   1,
	}}

	w := do(newTestRouter(t, svc), http.MethodGet, "/api/email/inbox?limit=3", "", authed())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, gateway.ViewInbox, svc.view)
	assert.Equal(t, 3, svc.limit)
	assert.JSONEq(t, `{"ok":true,"messages":[
		{"uid":"4","subject":"four","from":"a@x.com","date":"Mon, 2 Mar 2026 10:00:00 +0000","message_id":"<4@x>","size":120},
		{"uid":"3","subject":"(no subject)","from":"","date":"","message_id":"","size":0}
	]}`, w.Body.String())
}

func TestInbox_Defaults(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	w := do(newTestRouter(t, svc), http.MethodGet, "/api/email/inbox?folder=sent", "", authed())

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, gateway.ViewSent, svc.view)
	assert.Equal(t, defaultLimit, svc.limit)
	assert.JSONEq(t, `{"ok":true,"messages":[]}`, w.Body.String())
}

func TestInbox_BadQuery(t *testing.T) {
	t.Parallel()

	for _, q := range []string{"limit=0", "limit=501", "limit=-3", "limit=ten", "folder=drafts"} {
		q := q
		t.Run(q, func(t *testing.T) {
			t.Parallel()

			svc := &fakeService{}
			w := do(newTestRouter(t, svc), http.MethodGet, "/api/email/inbox?"+q, "", authed())
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Zero(t, svc.calls)
		})
	}
}

func TestInbox_FetchFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "login",
			err:  &email.Error{Kind: email.AuthFailure, Op: "IMAP login failed", Err: errors.New("NO LOGIN failed")},
			want: "IMAP fetch failed: NO LOGIN failed",
		},
		{
			name: "select",
			err:  &email.Error{Kind: email.FolderFailure, Op: "IMAP select failed", Err: errors.New("NO no such mailbox")},
			want: "IMAP fetch failed: NO no such mailbox",
		},
		{
			name: "search",
			err:  &email.Error{Kind: email.FetchFailure, Op: "IMAP fetch failed", Err: errors.New("BAD search")},
			want: "IMAP fetch failed: BAD search",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := do(newTestRouter(t, &fakeService{listErr: tt.err}), http.MethodGet, "/api/email/inbox", "", authed())
			assert.Equal(t, http.StatusInternalServerError, w.Code)
			assert.Equal(t, tt.want, decode(t, w)["detail"])
		})
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()

	svc := &fakeService{fullMsg: &email.FullMessage{
		Subject: "Hello", From: "a@x.com", Date: "Tue, 3 Mar 2026 09:00:00 +0000", Text: "Hi", HTML: "<p>Hi</p>",
	}}

	w := do(newTestRouter(t, svc), http.MethodGet, "/api/email/message?id=7", "", authed())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", svc.readID)
	assert.JSONEq(t, `{"ok":true,"subject":"Hello","from":"a@x.com","date":"Tue, 3 Mar 2026 09:00:00 +0000","text":"Hi","html":"<p>Hi</p>"}`, w.Body.String())
}

func TestMessage_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     string
		err        error
		wantStatus int
		wantDetail string
	}{
		{
			name:       "missing id",
			target:     "/api/email/message",
			wantStatus: http.StatusBadRequest,
			wantDetail: "id is required",
		},
		{
			name:       "not found",
			target:     "/api/email/message?id=99",
			err:        &email.Error{Kind: email.NotFound, Op: "Message not found"},
			wantStatus: http.StatusNotFound,
			wantDetail: "Message not found",
		},
		{
			name:       "read failure",
			target:     "/api/email/message?id=1",
			err:        &email.Error{Kind: email.FetchFailure, Op: "IMAP read failed", Err: errors.New("connection reset")},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "IMAP read failed: connection reset",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := do(newTestRouter(t, &fakeService{readErr: tt.err}), http.MethodGet, tt.target, "", authed())
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantDetail, decode(t, w)["detail"])
		})
	}
}

func TestCORS(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{}, "https://app.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/email/inbox", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	req.Header.Set("Access-Control-Request-Headers", tokenHeader)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Less(t, w.Code, 300)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_InvalidOrigin(t *testing.T) {
	t.Parallel()

	_, err := NewRouter(&fakeService{}, Options{AllowedOrigins: []string{"app.example.com"}})
	assert.Error(t, err)
}

func TestCORS_Wildcard(t *testing.T) {
	t.Parallel()

	cfg, err := corsConfig([]string{"https://a.example.com", "*"})
	require.NoError(t, err)
	assert.True(t, cfg.AllowAllOrigins)
	assert.Empty(t, cfg.AllowOrigins)
}
