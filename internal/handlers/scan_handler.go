package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/inbox-job-tracker/internal/auth"
	"github.com/justsurfingit/inbox-job-tracker/internal/config"
	"github.com/justsurfingit/inbox-job-tracker/internal/dtos"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
)

const maxScanDays = 30

type ScanHandler struct {
	Sessions   *services.SessionStore
	Profiles   *services.ProfileService
	Scanner    *services.Scanner
	Transports services.TransportFactory
	cfg        config.ScanConfig
	log        *logging.Logger
}

func NewScanHandler(s *services.SessionStore, p *services.ProfileService, sc *services.Scanner, t services.TransportFactory, cfg config.ScanConfig, log *logging.Logger) *ScanHandler {
	return &ScanHandler{Sessions: s, Profiles: p, Scanner: sc, Transports: t, cfg: cfg, log: log}
}

// Run is POST /scan. It blocks until the scan ends and returns the unsaved
// jobs; the client imports the ones it keeps.
func (h *ScanHandler) Run(c *gin.Context) {
	var req dtos.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}
	userID := auth.UserID(c)
	log := h.log.With("user_id", userID)

	prefs, err := h.Profiles.Preferences(c.Request.Context(), userID)
	if err != nil {
		log.Error("load preferences", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}

	ctx, account, release, err := h.Sessions.BeginScan(c.Request.Context(), userID)
	switch {
	case errors.Is(err, services.ErrScanInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, services.ErrNoEmailAccount):
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": err.Error(), "code": "no_email_account"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer release()

	// The watchdog covers the whole scan, listing included.
	ctx, cancel := context.WithTimeoutCause(ctx, h.cfg.Watchdog(), services.ErrScanTimeout)
	defer cancel()

	transport, err := h.Transports(ctx, account)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer transport.Close()

	refs, err := transport.ListMessages(ctx, h.query(req))
	if err != nil {
		h.listFailed(ctx, c, userID, err)
		return
	}

	keywords := req.Keywords
	if len(keywords) == 0 && prefs != nil {
		keywords = prefs.TargetRoles
	}

	result, err := h.Scanner.Scan(ctx, transport, refs, services.ScanOptions{
		Preferences: prefs,
		Keywords:    keywords,
		Source:      string(account.Provider),
		UseAI:       req.UseAI,
	})

	resp := dtos.ScanResponse{
		State:     string(result.State),
		Jobs:      result.Jobs,
		Processed: result.Processed,
		Failed:    result.Failed,
	}

	switch {
	case errors.Is(err, services.ErrTokenExpired):
		h.Sessions.MarkExpired(userID)
		resp.Outcome = dtos.OutcomeFailed
		resp.Message = "Your mail session expired. Reconnect your inbox and scan again."
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": "token_expired", "code": "token_expired", "result": resp})
		return
	case errors.Is(err, services.ErrNoMatchingJobs):
		h.Sessions.MarkSynced(userID, time.Now().UTC())
		resp.Outcome = dtos.OutcomeNoMatches
		resp.Message = "No matching jobs found."
	case err != nil:
		log.Error("scan failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Scan failed"})
		return
	case result.State == services.ScanCancelled:
		resp.Outcome = dtos.OutcomeCancelled
		resp.Message = "Scan cancelled (" + result.CancelReason + ")."
	default:
		h.Sessions.MarkSynced(userID, time.Now().UTC())
		resp.Outcome = dtos.OutcomeSucceeded
	}

	if resp.Jobs == nil {
		resp.Jobs = []models.Job{}
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel is POST /scan/cancel.
func (h *ScanHandler) Cancel(c *gin.Context) {
	c.JSON(http.StatusOK, dtos.ScanCancelResponse{Cancelled: h.Sessions.CancelScan(auth.UserID(c))})
}

func (h *ScanHandler) query(req dtos.ScanRequest) services.MessageQuery {
	days := req.Days
	if days <= 0 {
		days = h.cfg.DefaultDays
	}
	days = min(days, maxScanDays)

	limit := req.Limit
	if limit <= 0 || limit > h.cfg.MessageLimit {
		limit = h.cfg.MessageLimit
	}
	return services.MessageQuery{Terms: h.cfg.SubjectTerms, NewerThanDays: days, Limit: limit}
}

func (h *ScanHandler) listFailed(ctx context.Context, c *gin.Context, userID string, err error) {
	switch {
	case errors.Is(err, services.ErrTokenExpired):
		h.Sessions.MarkExpired(userID)
		c.JSON(http.StatusPreconditionRequired, gin.H{"error": "token_expired", "code": "token_expired"})
	case errors.Is(err, services.ErrInsufficientScope):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "insufficient_scope"})
	case ctx.Err() != nil:
		reason := services.CancelReason(ctx)
		h.log.Info("scan cancelled while listing messages", "user_id", userID, "reason", reason)
		c.JSON(http.StatusOK, dtos.ScanResponse{
			State:   string(services.ScanCancelled),
			Outcome: dtos.OutcomeCancelled,
			Jobs:    []models.Job{},
			Message: "Scan cancelled (" + reason + ").",
		})
	default:
		h.log.Warn("list messages failed", "user_id", userID, "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Could not reach the mail provider"})
	}
}
