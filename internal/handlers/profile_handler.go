package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/inbox-job-tracker/internal/auth"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
)

type ProfileHandler struct {
	Profiles *services.ProfileService
	log      *logging.Logger
}

func NewProfileHandler(p *services.ProfileService, log *logging.Logger) *ProfileHandler {
	return &ProfileHandler{Profiles: p, log: log}
}

// Get is GET /profile. A caller without a profile gets a JSON null.
func (h *ProfileHandler) Get(c *gin.Context) {
	p, err := h.Profiles.Get(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.log.Error("get profile", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// Save is POST /profile.
func (h *ProfileHandler) Save(c *gin.Context) {
	var p models.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}
	saved, err := h.Profiles.Upsert(c.Request.Context(), auth.UserID(c), &p)
	if err != nil {
		h.log.Error("save profile", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save profile"})
		return
	}
	c.JSON(http.StatusOK, saved)
}
