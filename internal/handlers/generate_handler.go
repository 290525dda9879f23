package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/justsurfingit/inbox-job-tracker/internal/auth"
	"github.com/justsurfingit/inbox-job-tracker/internal/dtos"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
)

type GenerateHandler struct {
	LLM  *services.LLMService
	Jobs *services.JobService
	log  *logging.Logger
}

func NewGenerateHandler(llm *services.LLMService, jobs *services.JobService, log *logging.Logger) *GenerateHandler {
	return &GenerateHandler{LLM: llm, Jobs: jobs, log: log}
}

// CoverLetter is POST /generate/cover-letter.
func (h *GenerateHandler) CoverLetter(c *gin.Context) {
	h.run(c, services.AssetCoverLetter, h.LLM.GenerateCoverLetter)
}

// Resume is POST /generate/resume.
func (h *GenerateHandler) Resume(c *gin.Context) {
	h.run(c, services.AssetResume, h.LLM.TailorResume)
}

func (h *GenerateHandler) run(c *gin.Context, kind services.AssetKind, generate func(context.Context, services.GenerationRequest) (string, error)) {
	var req dtos.GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	text, err := generate(c.Request.Context(), services.GenerationRequest{
		Title:       req.Title,
		Company:     req.Company,
		Description: req.Description,
		Resume:      req.Resume,
		Name:        req.Name,
		Email:       req.Email,
	})
	if err != nil {
		// The failure text goes back verbatim so the user sees what the model said.
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if req.JobID != "" {
		err := h.Jobs.SaveAsset(c.Request.Context(), auth.UserID(c), req.JobID, kind, text)
		switch {
		case errors.Is(err, services.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		case err != nil:
			h.log.Error("store generated document", "job_id", req.JobID, "kind", kind, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save generated document"})
			return
		}
	}

	c.JSON(http.StatusOK, dtos.GenerateResponse{Text: text})
}
