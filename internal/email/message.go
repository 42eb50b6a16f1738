// Package email defines the message types passed between the gateway's
// send and read pipelines.
package email

import "strings"

// OutboundMessage is a caller's request to send one email. The sender is
// not part of it: the gateway always sends as its configured address.
//
// A nil Bcc means "not given" and makes the composer add the sender as a
// blind copy. An empty, non-nil Bcc means no blind copies at all.
type OutboundMessage struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// Composed is a fully built outbound message, ready for a transport.
type Composed struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string

	// Text is the primary body. HTML is the alternative part and is empty
	// when the message is plain text only.
	Text string
	HTML string

	MessageID string

	// Raw is the RFC 5322 encoding of the message. It never carries a Bcc
	// header.
	Raw []byte
}

// Recipients returns the envelope recipients: To, then Cc, then Bcc, with
// case-insensitive duplicates removed.
func (c *Composed) Recipients() []string {
	seen := make(map[string]struct{}, len(c.To)+len(c.Cc)+len(c.Bcc))
	out := make([]string, 0, len(c.To)+len(c.Cc)+len(c.Bcc))
	for _, list := range [][]string{c.To, c.Cc, c.Bcc} {
		for _, addr := range list {
			key := strings.ToLower(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// HeaderSummary is one row of a mailbox listing.
type HeaderSummary struct {
	UID       string `json:"uid"`
	Subject   string `json:"subject"`
	From      string `json:"from"`
	Date      string `json:"date"`
	MessageID string `json:"message_id"`
	Size      int64  `json:"size"`
}

// Listing is the result of a header listing. Messages holds the summaries
// that could be fetched, newest first; Skipped counts the selected
// identifiers whose fetch failed.
type Listing struct {
	Messages  []HeaderSummary
	Requested int
	Skipped   int
}

// FullMessage is a message read in full, with its bodies extracted.
type FullMessage struct {
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}
