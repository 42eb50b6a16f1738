package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/gateway"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type handler struct {
	svc Service
}

// send handles POST /api/email/send.
func (h *handler) send(c *gin.Context) {
	var req email.OutboundMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body: " + err.Error()})
		return
	}

	if _, err := h.svc.Send(c.Request.Context(), req); err != nil {
		h.fail(c, "SMTP send failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// inbox handles GET /api/email/inbox.
func (h *handler) inbox(c *gin.Context) {
	view, err := gateway.ParseView(c.Query("folder"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "folder must be inbox or sent"})
		return
	}

	limit := defaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxLimit {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	listing, err := h.svc.List(c.Request.Context(), view, limit)
	if err != nil {
		h.fail(c, "IMAP fetch failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "messages": listing.Messages})
}

// message handles GET /api/email/message.
func (h *handler) message(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "id is required"})
		return
	}

	msg, err := h.svc.Read(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "IMAP read failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"subject": msg.Subject,
		"from":    msg.From,
		"date":    msg.Date,
		"text":    msg.Text,
		"html":    msg.HTML,
	})
}

// fail maps err to a response. Server-side failures carry prefix and the
// underlying cause.
func (h *handler) fail(c *gin.Context, prefix string, err error) {
	switch email.KindOf(err) {
	case email.InvalidInput:
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	case email.NotFound:
		c.JSON(http.StatusNotFound, gin.H{"detail": "Message not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": prefix + ": " + email.Cause(err)})
	}
}
