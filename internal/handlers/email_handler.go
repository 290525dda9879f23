package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/inbox-job-tracker/internal/auth"
	"github.com/justsurfingit/inbox-job-tracker/internal/dtos"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
)

// EmailHandler manages the session's mailbox connection. Credentials go to
// the in-memory session store only.
type EmailHandler struct {
	Sessions   *services.SessionStore
	Transports services.TransportFactory
	OAuth      *auth.OAuthFlow
	log        *logging.Logger
}

func NewEmailHandler(s *services.SessionStore, t services.TransportFactory, oauth *auth.OAuthFlow, log *logging.Logger) *EmailHandler {
	return &EmailHandler{Sessions: s, Transports: t, OAuth: oauth, log: log}
}

// Status is GET /email/status.
func (h *EmailHandler) Status(c *gin.Context) {
	userID := auth.UserID(c)
	resp := dtos.EmailStatusResponse{Scanning: h.Sessions.Scanning(userID)}
	if account, ok := h.Sessions.Account(userID); ok {
		resp.Account = &account
	}
	c.JSON(http.StatusOK, resp)
}

// Connect is POST /email/connect with a pasted token or app password.
func (h *EmailHandler) Connect(c *gin.Context) {
	var req dtos.EmailConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}
	provider, ok := models.ParseEmailProvider(req.Provider)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown provider %q", req.Provider)})
		return
	}
	token := auth.SanitizeToken(req.AccessToken)
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Access token is empty"})
		return
	}
	if provider != models.ProviderGmail && req.EmailAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "emailAddress is required for " + string(provider)})
		return
	}

	h.connect(c, models.EmailAccount{
		Provider:     provider,
		EmailAddress: req.EmailAddress,
		AccessToken:  token,
	})
}

// Disconnect is DELETE /email/connect.
func (h *EmailHandler) Disconnect(c *gin.Context) {
	if err := h.Sessions.Disconnect(auth.UserID(c)); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// OAuthURL is GET /email/oauth/url.
func (h *EmailHandler) OAuthURL(c *gin.Context) {
	if h.OAuth == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "OAuth connect is not configured"})
		return
	}
	c.JSON(http.StatusOK, dtos.OAuthURLResponse{URL: h.OAuth.AuthCodeURL(auth.UserID(c))})
}

// OAuthExchange is POST /email/oauth/exchange.
func (h *EmailHandler) OAuthExchange(c *gin.Context) {
	if h.OAuth == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "OAuth connect is not configured"})
		return
	}
	var req dtos.OAuthExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	tok, err := h.OAuth.Exchange(c.Request.Context(), auth.UserID(c), req.Code, req.State)
	switch {
	case errors.Is(err, auth.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.log.Warn("oauth exchange failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Authorization code exchange failed"})
		return
	}

	h.connect(c, models.EmailAccount{
		Provider:    models.ProviderGmail,
		AccessToken: tok.AccessToken,
	})
}

// connect resolves the mailbox address when the transport can tell it and
// stores the account on the session.
func (h *EmailHandler) connect(c *gin.Context, account models.EmailAccount) {
	addr, err := h.resolveAddress(c.Request.Context(), account)
	switch {
	case errors.Is(err, services.ErrUnsupportedProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrTokenExpired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "The provider rejected this token", "code": "token_expired"})
		return
	case errors.Is(err, services.ErrInsufficientScope):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "insufficient_scope"})
		return
	case err != nil:
		h.log.Warn("mailbox lookup failed", "provider", account.Provider, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not reach the mail provider"})
		return
	}
	if addr != "" {
		account.EmailAddress = addr
	}

	userID := auth.UserID(c)
	if err := h.Sessions.Connect(userID, account); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	account, _ = h.Sessions.Account(userID)
	h.log.Info("mailbox connected", "provider", account.Provider)
	c.JSON(http.StatusOK, dtos.EmailStatusResponse{Account: &account})
}

func (h *EmailHandler) resolveAddress(ctx context.Context, account models.EmailAccount) (string, error) {
	t, err := h.Transports(ctx, account)
	if err != nil {
		return "", err
	}
	defer t.Close()

	p, ok := t.(services.MailboxProfiler)
	if !ok {
		return "", nil
	}
	return p.EmailAddress(ctx)
}
