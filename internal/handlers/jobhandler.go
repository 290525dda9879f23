package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/justsurfingit/inbox-job-tracker/internal/auth"
	"github.com/justsurfingit/inbox-job-tracker/internal/dtos"
	"github.com/justsurfingit/inbox-job-tracker/internal/logging"
	"github.com/justsurfingit/inbox-job-tracker/internal/models"
	"github.com/justsurfingit/inbox-job-tracker/internal/services"
)

type JobHandler struct {
	JobService *services.JobService
	Links      *services.LinkImporter
	log        *logging.Logger
}

func NewJobHandler(j *services.JobService, links *services.LinkImporter, log *logging.Logger) *JobHandler {
	return &JobHandler{JobService: j, Links: links, log: log}
}

// List is GET /jobs.
func (h *JobHandler) List(c *gin.Context) {
	jobs, err := h.JobService.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.log.Error("list jobs", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load jobs"})
		return
	}
	c.JSON(http.StatusOK, dtos.JobListResponse{Jobs: jobs})
}

// Upsert is POST /jobs. A job without an id gets a fresh one.
func (h *JobHandler) Upsert(c *gin.Context) {
	var job models.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	saved, err := h.JobService.Upsert(c.Request.Context(), auth.UserID(c), &job)
	switch {
	case errors.Is(err, services.ErrInvalidJob):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.log.Error("save job", "job_id", job.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save job"})
		return
	}
	c.JSON(http.StatusOK, dtos.JobResponse{Success: true, Job: saved})
}

// Delete is DELETE /jobs?id=...
func (h *JobHandler) Delete(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing job id"})
		return
	}
	if err := h.JobService.Delete(c.Request.Context(), auth.UserID(c), id); err != nil {
		h.log.Error("delete job", "job_id", id, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete job"})
		return
	}
	c.JSON(http.StatusOK, dtos.JobResponse{Success: true})
}

// Import is POST /jobs/import.
func (h *JobHandler) Import(c *gin.Context) {
	var req dtos.JobImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	added, err := h.JobService.Import(c.Request.Context(), auth.UserID(c), req.Jobs)
	switch {
	case errors.Is(err, services.ErrInvalidJob):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.log.Error("import jobs", "count", len(req.Jobs), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to import jobs"})
		return
	}
	c.JSON(http.StatusOK, dtos.JobImportResponse{Added: added})
}

// UpdateStatus is PATCH /jobs/:id/status.
func (h *JobHandler) UpdateStatus(c *gin.Context) {
	var req dtos.JobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}
	status, err := models.ParseJobStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.JobService.UpdateStatus(c.Request.Context(), auth.UserID(c), c.Param("id"), status)
	switch {
	case errors.Is(err, services.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.log.Error("update job status", "job_id", c.Param("id"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update status"})
		return
	}
	c.JSON(http.StatusOK, dtos.JobResponse{Success: true, Job: job})
}

// Events is GET /jobs/:id/events.
func (h *JobHandler) Events(c *gin.Context) {
	events, err := h.JobService.Events(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		h.log.Error("list job events", "job_id", c.Param("id"), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job history"})
		return
	}
	c.JSON(http.StatusOK, dtos.JobEventsResponse{Events: events})
}

// Extract is POST /jobs/extract. The result is a draft and is not stored.
func (h *JobHandler) Extract(c *gin.Context) {
	var req dtos.JobExtractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}

	extracted, link, err := h.Links.Extract(c.Request.Context(), req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dtos.JobExtractionResponse{Job: models.Job{
		ID:             uuid.NewString(),
		Title:          extracted.Title,
		Company:        extracted.Company,
		Location:       extracted.Location,
		Description:    extracted.Description,
		SalaryRange:    extracted.SalaryRange,
		Requirements:   extracted.Requirements,
		Status:         models.StatusSaved,
		Source:         models.SourceImportedLink,
		ApplicationURL: link,
	}})
}
