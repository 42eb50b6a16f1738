// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"github.com/shineum/mailgate/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string         `json:"subject"`
	Body                   messageBody    `json:"body"`
	ToRecipients           []recipient    `json:"toRecipients"`
	CcRecipients           []recipient    `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient    `json:"bccRecipients,omitempty"`
	InternetMessageHeaders []customHeader `json:"internetMessageHeaders,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
}

// customHeader is an X- header carried through Graph. Graph only accepts
// headers with that prefix.
type customHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// tokenResponse represents the OAuth2 token endpoint response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a composed message into a Graph API
// sendMail request body. The HTML alternative wins when present.
func buildSendMailRequest(msg *email.Composed) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.Text,
	}
	if msg.HTML != "" {
		body.ContentType = "html"
		body.Content = msg.HTML
	}

	m := sendMailMessage{
		Subject:       msg.Subject,
		Body:          body,
		ToRecipients:  recipients(msg.To),
		CcRecipients:  recipients(msg.Cc),
		BccRecipients: recipients(msg.Bcc),
	}
	if msg.MessageID != "" {
		m.InternetMessageHeaders = []customHeader{{Name: "X-Mailgate-Message-Id", Value: msg.MessageID}}
	}

	return &sendMailRequest{Message: m, SaveToSentItems: true}
}

func recipients(addrs []string) []recipient {
	out := make([]recipient, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, recipient{EmailAddress: emailAddress{Address: addr}})
	}
	return out
}
